package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePostings(t *testing.T) {
	doc := `
postings:
  - job_title: Senior Product Manager
    company_name: TechCorp
    location: Remote
    job_description: Own the roadmap.
    case_study_instructions: Prioritise the backlog in the attached brief.
    requires:
      video: true
      resume: true
      case_study: true
  - job_title: Data Analyst
    company_name: Acme
    requires:
      resume: true
      cover_letter: true
`
	postings, err := parsePostings(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, postings, 2)

	assert.Equal(t, "Senior Product Manager", postings[0].JobTitle)
	assert.True(t, postings[0].Requires.Video)
	assert.True(t, postings[0].Requires.CaseStudy)
	assert.False(t, postings[0].Requires.CoverLetter)
	assert.True(t, postings[1].Requires.CoverLetter)
	assert.False(t, postings[1].Requires.Video)
}

func TestParsePostingsRejectsUnknownFields(t *testing.T) {
	_, err := parsePostings(strings.NewReader("postings:\n  - job_title: PM\n    salary: 10\n"))
	assert.Error(t, err)
}

func TestParsePostingsRequiresEntries(t *testing.T) {
	_, err := parsePostings(strings.NewReader("postings: []\n"))
	assert.Error(t, err)
}
