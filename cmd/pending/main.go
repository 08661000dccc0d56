// Command pending inspects and drops queued orders whose customers never joined.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"orderdesk-bot/internal/infra/sqlite3"
	"orderdesk-bot/internal/storage"
	"orderdesk-bot/internal/stories/orders"
)

func main() {
	dbPath := flag.String("db", "./data/orderdesk.db", "path to SQLite database")
	userID := flag.String("user", "", "only orders of this Discord user id")
	status := flag.String("status", "", "filter by status: pending, opened or expired")
	limit := flag.Uint64("limit", 100, "max rows to list")
	dropID := flag.Int64("drop", 0, "delete the queued order with this id")
	dryRun := flag.Bool("dry-run", false, "show what would be dropped without writing to DB")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: pending [-db path] [-user id] [-status s] [-limit n] [-drop id [-dry-run]]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sqlite3.New(ctx, sqlite3.WithDSN(*dbPath), sqlite3.WithMaxOpenConns(1))
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	store := storage.New(db.DB)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to prepare schema: %v", err)
	}

	if *dropID != 0 {
		if err := drop(ctx, store, *dropID, *dryRun); err != nil {
			log.Fatal(err)
		}
		return
	}

	criteria := orders.PendingCriteria{Limit: *limit}
	if *userID != "" {
		criteria.UserID = userID
	}
	if *status != "" {
		s := orders.PendingStatus(*status)
		if s != orders.PendingWaiting && s != orders.PendingOpened && s != orders.PendingExpired {
			log.Fatalf("unknown status %q", *status)
		}
		criteria.Status = &s
	}

	items, err := store.ListPendingOrders(ctx, criteria)
	if err != nil {
		log.Fatalf("failed to list pending orders: %v", err)
	}
	printTable(items)
}

type pendingStore interface {
	ListPendingOrders(ctx context.Context, criteria orders.PendingCriteria) ([]*orders.PendingOrder, error)
	DeletePendingOrder(ctx context.Context, id int64) (bool, error)
}

func drop(ctx context.Context, store pendingStore, id int64, dryRun bool) error {
	if dryRun {
		fmt.Printf("[DRY-RUN] would drop pending order %d\n", id)
		return nil
	}

	deleted, err := store.DeletePendingOrder(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to drop pending order %d: %w", id, err)
	}
	if !deleted {
		return fmt.Errorf("pending order %d not found", id)
	}
	fmt.Printf("Dropped pending order %d\n", id)
	return nil
}

func printTable(items []*orders.PendingOrder) {
	if len(items) == 0 {
		fmt.Println("No queued orders")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tORDER\tUSER\tSTATUS\tATTEMPTS\tTHREAD\tCREATED\tLAST ERROR")
	for _, p := range items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			p.ID,
			p.Order.ID,
			p.Order.UserID,
			p.Status,
			p.Attempts,
			p.ThreadID,
			p.CreatedAt.Format("2006-01-02 15:04"),
			p.LastError,
		)
	}
	_ = w.Flush()
	fmt.Printf("\nTotal: %d\n", len(items))
}
