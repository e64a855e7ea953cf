package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"talentflex/internal/analysis"
	"talentflex/internal/application"
	"talentflex/internal/auth"
	"talentflex/internal/config"
	"talentflex/internal/database"
	"talentflex/internal/lifecycle"
	"talentflex/internal/logger"
)

const usage = `usage:
  admin migrate
  admin seed -file postings.yaml
  admin token -user <id> -role candidate|employer|internal`

func main() {
	if len(os.Args) < 2 {
		log.Fatal(usage)
	}

	var err error
	switch os.Args[1] {
	case "migrate":
		err = runMigrate()
	case "seed":
		err = runSeed(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	default:
		err = fmt.Errorf("unknown command %q\n%s", os.Args[1], usage)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runMigrate() error {
	cfg := config.MustLoad()
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	fmt.Println("数据库迁移完成")
	return nil
}

// runSeed 从 YAML 文件批量创建申请链接，并打印分享链接。
func runSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	file := fs.String("file", "", "职位 YAML 文件（必填）")
	_ = fs.Parse(args)
	if strings.TrimSpace(*file) == "" {
		return errors.New("missing required flag: -file")
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open postings: %w", err)
	}
	defer f.Close()

	postings, err := parsePostings(f)
	if err != nil {
		return err
	}

	cfg := config.MustLoad()
	appLogger := logger.New(cfg.Log)
	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	engine, err := analysis.FromConfig(cfg.Analysis)
	if err != nil {
		return err
	}
	svc := lifecycle.NewService(db, engine, lifecycle.Options{Logger: appLogger})

	base := strings.TrimRight(cfg.API.PublicBaseURL, "/")
	ctx := context.Background()
	for i, p := range postings {
		app, err := svc.Create(ctx, p)
		if err != nil {
			return fmt.Errorf("create posting %d (%s): %w", i+1, p.JobTitle, err)
		}
		fmt.Printf("%s @ %s -> %s/application/%s\n", app.JobTitle, app.CompanyName, base, app.Token)
	}
	return nil
}

type postingsFile struct {
	Postings []lifecycle.Posting `yaml:"postings"`
}

func parsePostings(r io.Reader) ([]lifecycle.Posting, error) {
	var doc postingsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode postings: %w", err)
	}
	if len(doc.Postings) == 0 {
		return nil, errors.New("postings file has no postings")
	}
	return doc.Postings, nil
}

// runToken 为指定用户签发访问令牌，需要配置 JWT_PRIVATE_KEY_PATH。
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "用户 ID（必填）")
	roleFlag := fs.String("role", string(application.RoleCandidate), "角色：candidate、employer 或 internal")
	_ = fs.Parse(args)

	if strings.TrimSpace(*user) == "" {
		return errors.New("missing required flag: -user")
	}
	role, err := application.ParseRole(*roleFlag)
	if err != nil {
		return err
	}

	cfg := config.MustLoad()
	authService, err := auth.NewFromConfig(cfg.Auth)
	if err != nil {
		return fmt.Errorf("init auth service: %w", err)
	}
	token, err := authService.GenerateToken(strings.TrimSpace(*user), role)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
