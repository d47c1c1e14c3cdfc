// Command ledgertool checks and migrates signature audit ledgers directly
// against the database, and provisions operator accounts.
//
//	ledgertool verify <signRequestId>
//	ledgertool migrate -customer <customerId> <signRequestId>
//	ledgertool create-user -customer <customerId> [-role admin] [-name "Full Name"] <email>
//
// create-user reads the password from the first line of stdin.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/sjperalta/fintera-sign-api/internal/chainlock"
	"github.com/sjperalta/fintera-sign-api/internal/config"
	"github.com/sjperalta/fintera-sign-api/internal/database"
	"github.com/sjperalta/fintera-sign-api/internal/geoip"
	"github.com/sjperalta/fintera-sign-api/internal/jobs"
	"github.com/sjperalta/fintera-sign-api/internal/keys"
	"github.com/sjperalta/fintera-sign-api/internal/repository"
	"github.com/sjperalta/fintera-sign-api/internal/services"
	"github.com/sjperalta/fintera-sign-api/internal/storage"
	"github.com/sjperalta/fintera-sign-api/internal/tsa"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  ledgertool verify <signRequestId>")
	fmt.Fprintln(os.Stderr, "  ledgertool migrate -customer <customerId> <signRequestId>")
	fmt.Fprintln(os.Stderr, "  ledgertool create-user -customer <customerId> [-role admin] [-name <full name>] <email>")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Setup(cfg.Environment)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewLocalStorage(cfg.StoragePath)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	keyProvider, err := keys.NewHKDFProvider(cfg.MasterKey, keys.DefaultCacheSize)
	if err != nil {
		log.Fatalf("Failed to initialize key provider: %v", err)
	}

	worker := jobs.NewWorker(1)

	svcs := services.NewServices(repository.NewRepositories(db), worker, cfg, services.Infrastructure{
		Locker:    chainlock.NewLocalLocker(),
		Geo:       geoip.NewResolver(""),
		Authority: tsa.LocalClock{},
		Keys:      keyProvider,
		Blobs:     store,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)

	var code int
	switch os.Args[1] {
	case "verify":
		code = runVerify(ctx, svcs, os.Args[2:])
	case "migrate":
		code = runMigrate(ctx, svcs, os.Args[2:])
	case "create-user":
		code = runCreateUser(ctx, svcs, os.Args[2:])
	default:
		usage()
	}

	cancel()
	worker.Shutdown()
	database.Close(db)
	os.Exit(code)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// runVerify exits 0 for an intact chain, 1 for a tampered one and 2 on errors
func runVerify(ctx context.Context, svcs *services.Services, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
	}

	result, err := svcs.AuditTrail.VerifyChain(ctx, fs.Arg(0))
	if errors.Is(err, services.ErrIntegrityMismatch) {
		printJSON(result)
		return 1
	}
	if err != nil {
		log.Printf("verify failed: %v", err)
		return 2
	}
	printJSON(result)
	return 0
}

func runMigrate(ctx context.Context, svcs *services.Services, args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	customerID := fs.String("customer", "", "customer that owns the signature request")
	_ = fs.Parse(args)
	if fs.NArg() != 1 || *customerID == "" {
		usage()
	}

	result, err := svcs.AuditTrail.MigrateLegacy(ctx, *customerID, fs.Arg(0))
	if err != nil {
		log.Printf("migrate failed: %v", err)
		return 2
	}
	printJSON(result)
	return 0
}

func runCreateUser(ctx context.Context, svcs *services.Services, args []string) int {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	customerID := fs.String("customer", "", "customer the operator belongs to")
	role := fs.String("role", "user", "user or admin")
	name := fs.String("name", "", "full name")
	_ = fs.Parse(args)
	if fs.NArg() != 1 || *customerID == "" {
		usage()
	}

	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && password == "" {
		log.Printf("create-user: reading password from stdin: %v", err)
		return 2
	}

	user, err := svcs.Auth.CreateUser(ctx, services.NewUserInput{
		CustomerID: *customerID,
		Email:      fs.Arg(0),
		FullName:   *name,
		Role:       *role,
		Password:   strings.TrimRight(password, "\r\n"),
	})
	if err != nil {
		log.Printf("create-user failed: %v", err)
		return 2
	}
	printJSON(user.ToResponse())
	return 0
}
