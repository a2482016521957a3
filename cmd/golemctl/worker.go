package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/rpc"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Inspect and drive durable workers",
}

var workerStatusCmd = &cobra.Command{
	Use:   "status COMPONENT-UUID WORKER-NAME",
	Short: "Print the cached status record for a worker from the local store",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkerStatus,
}

var workerInvokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Invoke a worker's exported function and wait for the result",
	RunE:  runWorkerInvoke,
}

var workerGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Fetch a worker's live metadata from a running worker-executor",
	RunE:  runWorkerGet,
}

func init() {
	workerCmd.AddCommand(workerStatusCmd)
	workerCmd.AddCommand(workerInvokeCmd)
	workerCmd.AddCommand(workerGetCmd)

	for _, c := range []*cobra.Command{workerInvokeCmd, workerGetCmd} {
		c.Flags().String("addr", envDefault("GOLEM_WORKER_EXECUTOR_ADDR", "127.0.0.1:9000"), "Worker-executor gRPC address to dial")
		c.Flags().StringP("component", "C", "", "Component UUID the worker belongs to (required)")
		c.Flags().StringP("worker-name", "w", "", "Worker name (required)")
		_ = c.MarkFlagRequired("component")
		_ = c.MarkFlagRequired("worker-name")
	}

	workerInvokeCmd.Flags().StringP("function", "f", "", "Exported function name to invoke (required)")
	workerInvokeCmd.Flags().StringP("parameters", "j", "", "Function parameters as a JSON array")
	workerInvokeCmd.Flags().StringArrayP("param", "p", nil, "Single function parameter in WAVE-ish literal form; repeatable")
	workerInvokeCmd.Flags().StringP("idempotency-key", "k", "", "Idempotency key; a fresh one is generated if omitted")
	workerInvokeCmd.MarkFlagsMutuallyExclusive("parameters", "param")
	_ = workerInvokeCmd.MarkFlagRequired("function")
}

// ownedFromFlags resolves the -C/--component and -w/--worker-name flags
// shared by the RPC-backed worker subcommands into a golem.OwnedWorkerId.
func ownedFromFlags(cmd *cobra.Command) (golem.OwnedWorkerId, error) {
	componentStr, _ := cmd.Flags().GetString("component")
	workerName, _ := cmd.Flags().GetString("worker-name")

	componentUUID, err := uuid.Parse(componentStr)
	if err != nil {
		return golem.OwnedWorkerId{}, fmt.Errorf("--component must be a UUID: %w", err)
	}
	return golem.OwnedWorkerId{
		WorkerId: golem.WorkerId{
			ComponentId: golem.ComponentId{UUID: componentUUID},
			WorkerName:  workerName,
		},
	}, nil
}

func toWorkerRef(owned golem.OwnedWorkerId) rpc.WorkerRef {
	return rpc.WorkerRef{
		AccountId:   owned.AccountId.Value,
		ProjectId:   owned.ProjectId.UUID.String(),
		ComponentId: owned.WorkerId.ComponentId.UUID.String(),
		WorkerName:  owned.WorkerId.WorkerName,
	}
}

func dialWorkerClient(ctx context.Context, cmd *cobra.Command) (*rpc.WorkerClient, func(), error) {
	addr, _ := cmd.Flags().GetString("addr")
	cc, err := rpc.Dial(ctx, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return rpc.NewWorkerClient(cc), func() { _ = cc.Close() }, nil
}

// paramsFromFlags encodes -j/--parameters or -p/--param into the JSON
// array form the wasm host import layer decodes function arguments from.
func paramsFromFlags(cmd *cobra.Command) ([]byte, error) {
	jsonParams, _ := cmd.Flags().GetString("parameters")
	waveParams, _ := cmd.Flags().GetStringArray("param")

	if jsonParams != "" {
		var probe []json.RawMessage
		if err := json.Unmarshal([]byte(jsonParams), &probe); err != nil {
			return nil, fmt.Errorf("--parameters is not a JSON array: %w", err)
		}
		return []byte(jsonParams), nil
	}

	literals := make([]json.RawMessage, 0, len(waveParams))
	for _, p := range waveParams {
		var v any
		if err := json.Unmarshal([]byte(p), &v); err != nil {
			return nil, fmt.Errorf("--param %q is not a valid literal: %w", p, err)
		}
		literals = append(literals, json.RawMessage(p))
	}
	return json.Marshal(literals)
}

func runWorkerInvoke(cmd *cobra.Command, args []string) error {
	owned, err := ownedFromFlags(cmd)
	if err != nil {
		return err
	}
	function, _ := cmd.Flags().GetString("function")
	idempotencyKey, _ := cmd.Flags().GetString("idempotency-key")
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	params, err := paramsFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, closeFn, err := dialWorkerClient(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	resp, err := client.InvokeAndAwait(ctx, &rpc.InvokeRequest{
		Worker:         toWorkerRef(owned),
		Function:       function,
		Params:         params,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return err
	}
	fmt.Println(string(resp.Result))
	return nil
}

func runWorkerGet(cmd *cobra.Command, args []string) error {
	owned, err := ownedFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, closeFn, err := dialWorkerClient(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	resp, err := client.Get(ctx, &rpc.GetWorkerRequest{Worker: toWorkerRef(owned)})
	if err != nil {
		return err
	}

	fmt.Printf("worker:       %s\n", owned.WorkerId)
	fmt.Printf("status:       %s\n", resp.Status)
	fmt.Printf("component v:  %d\n", resp.ComponentVersion)
	fmt.Printf("oplog index:  %d\n", resp.OplogIndex)
	fmt.Printf("retry count:  %d\n", resp.RetryCount)
	if resp.LastError != "" {
		fmt.Printf("last error:   %s\n", resp.LastError)
	}
	return nil
}

func runWorkerStatus(cmd *cobra.Command, args []string) error {
	componentUUID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("component must be a UUID: %w", err)
	}
	workerName := args[1]

	db, _, statusStore, err := openLocal(cmd)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer db.Close()

	owned := golem.OwnedWorkerId{
		WorkerId: golem.WorkerId{
			ComponentId: golem.ComponentId{UUID: componentUUID},
			WorkerName:  workerName,
		},
	}

	rec, err := statusStore.Get(context.Background(), owned)
	if err != nil {
		return err
	}

	fmt.Printf("worker:       %s\n", owned.WorkerId)
	fmt.Printf("status:       %s\n", rec.Status)
	fmt.Printf("component v:  %d\n", rec.ComponentVersion)
	fmt.Printf("oplog index:  %d\n", rec.OplogIdx)
	fmt.Printf("retry count:  %d\n", rec.RetryCount)
	if rec.LastError != "" {
		fmt.Printf("last error:   %s\n", rec.LastError)
	}
	return nil
}
