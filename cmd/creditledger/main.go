package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/promptdeck/creditledger/internal/cache"
	"github.com/promptdeck/creditledger/internal/config"
	"github.com/promptdeck/creditledger/internal/db"
	"github.com/promptdeck/creditledger/internal/ledger"
	"github.com/promptdeck/creditledger/internal/logging"
	"github.com/promptdeck/creditledger/internal/models"
	"github.com/promptdeck/creditledger/internal/pricing"
	"github.com/promptdeck/creditledger/internal/store"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const usageText = `usage: creditledger [-config path] <command> [flags]

commands:
  migrate      run database migrations
  grant        issue a credit grant to a user
  burn         charge a user for one model invocation
  balance      print a user's eligible balance
  breakdown    print a user's balance per category
  history      print a user's burn history
  deadletters  list unresolved settlement dead letters
  resolve      mark a settlement dead letter as reconciled
`

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usageText) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if errRun := run(ctx, *configPath, args[0], args[1:]); errRun != nil {
		log.WithError(errRun).Fatal("creditledger command failed")
	}
}

func run(ctx context.Context, configPath, command string, args []string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}

	if command == "migrate" {
		if errMigrate := db.Migrate(conn); errMigrate != nil {
			return errMigrate
		}
		log.Info("migrations applied")
		return nil
	}

	var snapshots *cache.Cache
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		snapshots = cache.New(client, time.Duration(cfg.Redis.SnapshotTTLSeconds)*time.Second)
	}

	engine := ledger.New(store.NewGormStore(conn), pricing.DefaultRegistry(), snapshots)

	switch command {
	case "grant":
		return runGrant(ctx, engine, args)
	case "burn":
		return runBurn(ctx, engine, args)
	case "balance":
		return runBalance(ctx, engine, args)
	case "breakdown":
		return runBreakdown(ctx, engine, args)
	case "history":
		return runHistory(ctx, engine, args)
	case "deadletters":
		return runDeadLetters(ctx, engine, args)
	case "resolve":
		return runResolve(ctx, engine, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runGrant(ctx context.Context, engine *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	userID := fs.Uint64("user", 0, "user ID")
	amount := fs.Int64("amount", 0, "credit amount")
	category := fs.String("category", string(models.GrantCategoryPurchased), "grant category: purchased|bonus|referral")
	sourceTag := fs.String("source", "manual", "source tag")
	expiryDays := fs.Int("expiry-days", 0, "days until expiry, 0 = never")
	_ = fs.Parse(args)

	grant, errAdd := engine.AddGrant(ctx, *userID, *amount, models.GrantCategory(*category), *sourceTag, *expiryDays)
	if errAdd != nil {
		return errAdd
	}
	fmt.Printf("grant %d issued: user=%d amount=%d category=%s\n", grant.ID, grant.OwnerID, grant.IssuedAmount, grant.Category)
	return nil
}

func runBurn(ctx context.Context, engine *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("burn", flag.ExitOnError)
	userID := fs.Uint64("user", 0, "paying user ID")
	modelID := fs.String("model", "", "model ID")
	bucket := fs.String("bucket", string(models.LengthBucketShort), "length bucket: short|medium|long")
	creatorID := fs.Uint64("creator", 0, "creator user ID, 0 = none")
	feePercent := fs.Int("fee-percent", 0, "creator fee percentage of base cost")
	_ = fs.Parse(args)

	req := ledger.ChargeRequest{
		UserID:               *userID,
		ModelID:              *modelID,
		LengthBucket:         models.LengthBucket(*bucket),
		CreatorFeePercentage: *feePercent,
	}
	if *creatorID != 0 {
		req.CreatorID = creatorID
	}

	result, errBurn := engine.Burn(ctx, req)
	if errBurn != nil {
		return errBurn
	}
	fmt.Printf("charged %d credits across %d grants (base=%d fee=%d markup=%d)\n",
		result.Quote.Required, len(result.Events), result.Quote.BaseCost, result.Quote.CreatorFee, result.Quote.PlatformMarkup)
	if result.CreatorShare > 0 {
		state := "settled"
		if result.SettlementPending {
			state = "pending reconciliation"
		}
		fmt.Printf("creator share %d: %s\n", result.CreatorShare, state)
	}
	return nil
}

func runBalance(ctx context.Context, engine *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	userID := fs.Uint64("user", 0, "user ID")
	_ = fs.Parse(args)

	balance, errBalance := engine.GetBalance(ctx, *userID)
	if errBalance != nil {
		return errBalance
	}
	fmt.Printf("user %d balance: %d\n", *userID, balance)
	return nil
}

func runBreakdown(ctx context.Context, engine *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("breakdown", flag.ExitOnError)
	userID := fs.Uint64("user", 0, "user ID")
	_ = fs.Parse(args)

	breakdown, errBreakdown := engine.GetBreakdown(ctx, *userID)
	if errBreakdown != nil {
		return errBreakdown
	}
	fmt.Printf("user %d: purchased=%d bonus=%d referral=%d total=%d\n",
		*userID, breakdown.Purchased, breakdown.Bonus, breakdown.Referral, breakdown.Total())
	return nil
}

func runHistory(ctx context.Context, engine *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	userID := fs.Uint64("user", 0, "user ID")
	limit := fs.Int("limit", 20, "page size")
	offset := fs.Int("offset", 0, "page offset")
	_ = fs.Parse(args)

	events, errHistory := engine.GetHistory(ctx, *userID, *limit, *offset)
	if errHistory != nil {
		return errHistory
	}
	for _, event := range events {
		line := fmt.Sprintf("%s burn %d: user=%d grant=%d amount=%d model=%s/%s",
			event.CreatedAt.Format(time.RFC3339), event.ID, event.UserID, event.GrantID, event.Amount, event.ModelID, event.LengthBucket)
		if event.CreatorID != nil {
			line += fmt.Sprintf(" creator=%d fee_share=%d", *event.CreatorID, event.CreatorFeeShare)
		}
		fmt.Println(line)
	}
	if len(events) == 0 {
		fmt.Println("no burn events")
	}
	return nil
}

func runDeadLetters(ctx context.Context, engine *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("deadletters", flag.ExitOnError)
	all := fs.Bool("all", false, "include resolved entries")
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "page offset")
	_ = fs.Parse(args)

	letters, errList := engine.DeadLetters(ctx, !*all, *limit, *offset)
	if errList != nil {
		return errList
	}
	for _, letter := range letters {
		state := "unresolved"
		if letter.Resolved {
			state = "resolved"
		}
		fmt.Printf("%s dead letter %d: creator=%d amount=%d (%s) %s\n",
			letter.CreatedAt.Format(time.RFC3339), letter.ID, letter.CreatorID, letter.Amount, state, letter.Reason)
	}
	if len(letters) == 0 {
		fmt.Println("no dead letters")
	}
	return nil
}

func runResolve(ctx context.Context, engine *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	id := fs.Uint64("id", 0, "dead letter ID")
	_ = fs.Parse(args)

	if errResolve := engine.ResolveDeadLetter(ctx, *id); errResolve != nil {
		if errors.Is(errResolve, store.ErrDeadLetterNotFound) {
			return fmt.Errorf("dead letter %d not found or already resolved", *id)
		}
		return errResolve
	}
	fmt.Printf("dead letter %d resolved\n", *id)
	return nil
}
