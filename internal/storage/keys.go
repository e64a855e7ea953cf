package storage

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"talentflex/internal/application"
)

const maxObjectKeyLength = 200

// SlotPolicy 描述某个槽位允许的文件类型与大小。
type SlotPolicy struct {
	Extensions   []string
	MimePrefixes []string
	MaxBytes     int64
}

const mb = int64(1 << 20)

var slotPolicies = map[application.FileType]SlotPolicy{
	application.FileVideo: {
		Extensions:   []string{".mp4", ".mov", ".webm", ".m4v"},
		MimePrefixes: []string{"video/"},
		MaxBytes:     500 * mb,
	},
	application.FileResume: {
		Extensions:   []string{".pdf"},
		MimePrefixes: []string{"application/pdf"},
		MaxBytes:     5 * mb,
	},
	application.FileCaseStudy: {
		Extensions:   []string{".pdf"},
		MimePrefixes: []string{"application/pdf"},
		MaxBytes:     10 * mb,
	},
	application.FileCoverLetter: {
		Extensions:   []string{".pdf"},
		MimePrefixes: []string{"application/pdf"},
		MaxBytes:     5 * mb,
	},
}

// PolicyFor returns the upload policy of a slot.
func PolicyFor(slot application.FileType) SlotPolicy {
	p, ok := slotPolicies[slot]
	if !ok {
		panic(fmt.Sprintf("storage: no policy for slot %q", string(slot)))
	}
	return p
}

// Check 校验文件名、MIME 与大小是否符合槽位要求。
func (p SlotPolicy) Check(filename, mimeType string, size int64) error {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(filename)))
	if !contains(p.Extensions, ext) {
		return fmt.Errorf("extension %q not allowed, want one of %s", ext, strings.Join(p.Extensions, ", "))
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !hasAnyPrefix(mimeType, p.MimePrefixes) {
		return fmt.Errorf("mime type %q not allowed", mimeType)
	}
	if size <= 0 {
		return fmt.Errorf("file is empty")
	}
	if size > p.MaxBytes {
		return fmt.Errorf("file is %d bytes, limit is %d", size, p.MaxBytes)
	}
	return nil
}

// ObjectKey 为申请的某个槽位生成新的对象键：applications/<id>/<slot>/<uuid><ext>。
func ObjectKey(applicationID string, slot application.FileType, filename string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(filename)))
	return fmt.Sprintf("%s%s%s", slotPrefix(applicationID, slot), uuid.NewString(), ext)
}

func slotPrefix(applicationID string, slot application.FileType) string {
	return fmt.Sprintf("applications/%s/%s/", applicationID, slot)
}

// IsValidObjectKey 判断客户端回传的对象键是否属于该申请的槽位，防止引用他人的对象。
func IsValidObjectKey(applicationID string, slot application.FileType, key string) bool {
	if key == "" || !utf8.ValidString(key) {
		return false
	}
	if !strings.HasPrefix(key, slotPrefix(applicationID, slot)) {
		return false
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.Contains(key, "//") {
		return false
	}
	if len(key) > maxObjectKeyLength {
		return false
	}
	policy, ok := slotPolicies[slot]
	if !ok {
		return false
	}
	return contains(policy.Extensions, strings.ToLower(path.Ext(key)))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func hasAnyPrefix(v string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(v, p) {
			return true
		}
	}
	return false
}
