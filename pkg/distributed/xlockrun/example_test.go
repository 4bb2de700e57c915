package xlockrun_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cermati/exclusion-mutuelle/pkg/distributed/xlockrun"
)

// Example demonstrates running a task inside a distributed critical
// section backed by a single-node Redlock quorum (miniredis stands in
// for a real Redis node).
func Example() {
	mr, err := miniredis.Run()
	if err != nil {
		log.Fatal(err)
	}
	defer mr.Close()

	node := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = node.Close() }()

	client, err := xlockrun.NewRedisClient([]redis.UniversalClient{node})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	runner, err := xlockrun.New(client, xlockrun.WithDebugKey("billing-reconciliation"))
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := runner.Run(ctx, func(ctx context.Context) (any, error) {
		// Critical section: only one process-wide holder of
		// "invoices:reconcile" runs this at a time.
		return "reconciled", nil
	}, xlockrun.Key("invoices:reconcile"), xlockrun.WithLockTTL(2*time.Second))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(result)
	// Output: reconciled
}
