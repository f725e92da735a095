// Command groupctl is the back-office tool for document groups. It talks to
// the same PostgreSQL and Redis instances as the intake daemon.
//
// Commands:
//
//	groupable -staff <id> -name <client> [-phone <n>]   List bundleable documents
//	create    -staff <id> -docs <id,id,...>             Bundle documents into a group
//	ready     -doc <id> -staff <id>                     Mark a single document ready for pickup
//	deliver   -code <nnnn> -received-by <name>          Deliver a group by verification code
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"notaria/internal/audit"
	"notaria/internal/domain"
	"notaria/internal/grouping"
	groupingmetrics "notaria/internal/grouping/metrics"
	"notaria/internal/notify"
	"notaria/internal/platform/config"
	"notaria/internal/platform/logger"
	platformredis "notaria/internal/platform/redis"
	"notaria/internal/storage/postgres"
	id "notaria/pkg/domain"
	dErrors "notaria/pkg/domainerrors"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := config.FromEnv()

	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()
	env, err := setup(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer env.close()

	switch os.Args[1] {
	case "groupable":
		err = runGroupable(ctx, env, os.Args[2:])
	case "create":
		err = runCreate(ctx, env, os.Args[2:])
	case "ready":
		err = runReady(ctx, env, os.Args[2:])
	case "deliver":
		err = runDeliver(ctx, env, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(1)
	}
}

type env struct {
	grouper *grouping.Service
	closers []func()
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func setup(ctx context.Context, cfg config.Config) (*env, error) {
	log := logger.New(cfg.LogLevel)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	e := &env{closers: []func(){func() { _ = db.Close() }}}
	if err := db.PingContext(ctx); err != nil {
		e.close()
		return nil, err
	}

	docs := postgres.NewDocumentStore(db)
	groups := postgres.NewGroupStore(db)

	opts := []grouping.Option{
		grouping.WithLogger(log),
		grouping.WithAuditPublisher(audit.NewPublisher(postgres.NewAuditStore(db))),
		grouping.WithDispatcher(notify.NewLogDispatcher(log)),
		grouping.WithMetrics(groupingmetrics.New()),
	}
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		e.close()
		return nil, err
	}
	if redisClient != nil {
		e.closers = append(e.closers, func() { _ = redisClient.Close() })
		opts = append(opts, grouping.WithCodeReserver(platformredis.NewCodeReserver(redisClient)))
	}

	e.grouper = grouping.New(docs, groups, postgres.NewTx(db), opts...)
	return e, nil
}

func runGroupable(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("groupable", flag.ExitOnError)
	staffRaw := fs.String("staff", "", "staff account id")
	name := fs.String("name", "", "client name")
	phone := fs.String("phone", "", "client phone")
	_ = fs.Parse(args)

	staffID, err := id.ParseStaffID(*staffRaw)
	if err != nil {
		return err
	}
	docs, err := e.grouper.DetectGroupable(ctx, domain.Client{Name: *name, Phone: *phone}, staffID)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("no groupable documents")
		return nil
	}
	for _, doc := range docs {
		fmt.Printf("%s  %-14s %-30s %s\n",
			doc.ID, doc.Type, doc.ProtocolNumber, doc.Client.Name)
	}
	return nil
}

func runCreate(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	staffRaw := fs.String("staff", "", "staff account id")
	docsRaw := fs.String("docs", "", "comma-separated document ids")
	_ = fs.Parse(args)

	staffID, err := id.ParseStaffID(*staffRaw)
	if err != nil {
		return err
	}
	var docIDs []id.DocumentID
	for _, part := range strings.Split(*docsRaw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		docID, err := id.ParseDocumentID(part)
		if err != nil {
			return err
		}
		docIDs = append(docIDs, docID)
	}

	result, err := e.grouper.CreateGroup(ctx, docIDs, staffID)
	if err != nil {
		return err
	}
	fmt.Printf("group %s created with %d documents\n", result.Group.GroupCode, len(result.Documents))
	fmt.Printf("verification code: %s\n", result.Group.VerificationCode)
	return nil
}

func runReady(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("ready", flag.ExitOnError)
	docRaw := fs.String("doc", "", "document id")
	staffRaw := fs.String("staff", "", "staff account id performing the action")
	_ = fs.Parse(args)

	docID, err := id.ParseDocumentID(*docRaw)
	if err != nil {
		return err
	}
	staffID, err := id.ParseStaffID(*staffRaw)
	if err != nil {
		return err
	}
	doc, err := e.grouper.MarkReady(ctx, docID, staffID)
	if err != nil {
		return err
	}
	fmt.Printf("document %s (%s) marked ready\n", doc.ProtocolNumber, doc.ID)
	return nil
}

func runDeliver(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("deliver", flag.ExitOnError)
	code := fs.String("code", "", "4-digit verification code")
	receivedBy := fs.String("received-by", "", "name of the person picking up")
	actor := fs.String("actor", "", "staff account id performing the delivery")
	_ = fs.Parse(args)

	group, err := e.grouper.DeliverGroup(ctx, *code, grouping.DeliveryInfo{
		ReceivedBy: *receivedBy,
		ActorID:    *actor,
	})
	if err != nil {
		return err
	}
	fmt.Printf("group %s delivered to %s (%d documents)\n",
		group.GroupCode, group.DeliveredTo, group.DocumentsCount)
	return nil
}

func renderError(err error) string {
	if detail := dErrors.Detail(err, "offending_ids"); detail != "" {
		return fmt.Sprintf("%v (documents: %s)", err, detail)
	}
	return err.Error()
}

func printUsage() {
	fmt.Println("groupctl - document group operations")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  groupctl groupable -staff <id> -name <client> [-phone <n>]")
	fmt.Println("  groupctl create    -staff <id> -docs <id,id,...>")
	fmt.Println("  groupctl ready     -doc <id> -staff <id>")
	fmt.Println("  groupctl deliver   -code <nnnn> -received-by <name> [-actor <id>]")
	fmt.Println()
	fmt.Println("Environment: DATABASE_URL (required), REDIS_URL (optional),")
	fmt.Println("NOTARIA_LOG_LEVEL. A .env file in the working directory is loaded.")
}
