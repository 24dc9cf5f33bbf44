package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerflow/internal/config"
	"github.com/roach88/ledgerflow/internal/correlate"
	"github.com/roach88/ledgerflow/internal/engine"
	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
	"github.com/roach88/ledgerflow/internal/metrics"
	"github.com/roach88/ledgerflow/internal/wallet"
)

// SeedEnv is read when --seed is not given.
const SeedEnv = "LEDGERFLOW_SEED"

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Seed      string
	Args      string
	Success   string
	Where     string
	Unsigned  bool
	Timeout   time.Duration
	NoHistory bool
}

// SubmitResult is what submit prints on success.
type SubmitResult struct {
	Hash    string    `json:"hash"`
	Network string    `json:"network"`
	Call    string    `json:"call"`
	Sender  string    `json:"sender,omitempty"`
	Payload ir.Object `json:"payload"`
}

func (r SubmitResult) String() string {
	return fmt.Sprintf("finalized %s on %s\n  call:    %s\n  payload: %s", r.Hash, r.Network, r.Call, ir.Render(r.Payload))
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <section.method>",
		Short: "Submit a transaction and wait for its outcome",
		Long: `Submit a transaction and wait until it is confirmed or fails.

The call succeeds when an event matching --success is emitted in the
transaction's block. Dispatch failures are reported with the module error
resolved from runtime metadata.

Exit codes: 0 confirmed, 1 transaction failed, 2 command error.

Example:
  ledgerflow submit assets.transfer \
    --args '{"asset":1,"dest":"0x8eaf...","amount":100}' \
    --success assets.Transferred --seed 0x9d61...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Seed, "seed", "", "hex ed25519 seed of the sender (default $"+SeedEnv+")")
	cmd.Flags().StringVar(&opts.Args, "args", "{}", "call arguments as JSON")
	cmd.Flags().StringVar(&opts.Success, "success", "", "event confirming the call, as section.Method (required)")
	cmd.Flags().StringVar(&opts.Where, "where", "", "JSON object the success event data must contain")
	cmd.Flags().BoolVar(&opts.Unsigned, "unsigned", false, "submit without a signature")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "give up after this long (0 waits forever)")
	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "do not record the transaction in the database")
	_ = cmd.MarkFlagRequired("success")

	return cmd
}

func runSubmit(opts *SubmitOptions, callName string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	req, err := opts.request(callName)
	if err != nil {
		return report(f, ExitCommandError, ErrCodeInput, err.Error(), nil)
	}

	ctx, cancel := signalContext(cmd.Context(), opts.Logger)
	defer cancel()

	e := newEnv(opts.RootOptions)
	defer func() {
		if err := e.Close(); err != nil {
			opts.Logger.Error("error during shutdown", "error", err)
		}
	}()

	network, client, err := e.dial(ctx, opts.Network)
	if err != nil {
		return report(f, ExitCommandError, ErrCodeNetwork, err.Error(), nil)
	}

	collector := metrics.NewCollector(metricsNamespace)
	e.serveMetrics(ctx, collector)

	execOpts := []engine.Option{
		engine.WithLogger(opts.Logger),
		engine.WithMetrics(collector),
		engine.WithRetention(opts.Config.Retention),
	}
	if lim := e.limiter(); lim != nil {
		execOpts = append(execOpts, engine.WithRateLimit(lim))
	}

	persistState := opts.Config.State.Backend != config.BackendMemory
	if !opts.NoHistory || persistState {
		st, err := e.openStore()
		if err != nil {
			return report(f, ExitCommandError, ErrCodeStore, err.Error(), nil)
		}
		if !opts.NoHistory {
			seq, err := st.History().MaxSeq(ctx)
			if err != nil {
				return report(f, ExitCommandError, ErrCodeStore, err.Error(), nil)
			}
			execOpts = append(execOpts,
				engine.WithHistory(st.History()),
				engine.WithClock(engine.NewClockAt(seq)),
			)
		}
		if persistState {
			state, err := e.openState(ctx, st)
			if err != nil {
				return report(f, ExitCommandError, ErrCodeStore, err.Error(), nil)
			}
			onFinalized := req.OnFinalized
			req.OnFinalized = func(hash string, payload ir.Object) {
				if onFinalized != nil {
					onFinalized(hash, payload)
				}
				fin := wallet.Finalized{Network: network.ID, Hash: hash, Sender: sender(req)}
				if err := wallet.PutFinalized(ctx, state, fin); err != nil {
					opts.Logger.Warn("failed to record finalized transaction", "hash", hash, "error", err)
				}
			}
		}
	}

	exec := engine.NewExecutor(client, execOpts...)
	e.onClose(func() error {
		exec.Close()
		return nil
	})

	req.OnReady = func(hash string) {
		f.VerboseLog("transaction %s is in the pool", hash)
	}

	var res engine.Result
	if opts.Unsigned {
		res = exec.AwaitUnsigned(ctx, req)
	} else {
		res = exec.Await(ctx, req)
	}
	return outputSubmit(f, network, req, res)
}

// request builds the engine request from flags.
func (opts *SubmitOptions) request(callName string) (engine.Request, error) {
	section, method, err := ledger.ParseCallName(callName)
	if err != nil {
		return engine.Request{}, err
	}
	args, err := parseObject("--args", opts.Args)
	if err != nil {
		return engine.Request{}, err
	}

	evSection, evMethod, err := ledger.ParseCallName(opts.Success)
	if err != nil {
		return engine.Request{}, fmt.Errorf("--success: %w", err)
	}
	success := correlate.Event(evSection, evMethod)
	if opts.Where != "" {
		where, err := parseObject("--where", opts.Where)
		if err != nil {
			return engine.Request{}, err
		}
		success = correlate.EventWhere(evSection, evMethod, where)
	}

	req := engine.Request{
		Call:    ledger.Call{Section: section, Method: method, Args: args},
		Success: success,
		Timeout: opts.Timeout,
	}
	if opts.Unsigned {
		return req, nil
	}

	seed := opts.Seed
	if seed == "" {
		seed = os.Getenv(SeedEnv)
	}
	if seed == "" {
		return engine.Request{}, fmt.Errorf("--seed or $%s is required for signed calls", SeedEnv)
	}
	signer, err := ledger.ParseSeed(seed)
	if err != nil {
		return engine.Request{}, fmt.Errorf("--seed: %w", err)
	}
	req.Signer = signer
	return req, nil
}

func parseObject(flag, raw string) (ir.Object, error) {
	v, err := ir.UnmarshalValue([]byte(strings.TrimSpace(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid %s JSON: %w", flag, err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("invalid %s JSON: want an object", flag)
	}
	return obj, nil
}

func sender(req engine.Request) string {
	if req.Signer == nil {
		return ""
	}
	return req.Signer.Address()
}

func outputSubmit(f *OutputFormatter, network config.Network, req engine.Request, res engine.Result) error {
	if res.OK() {
		return f.Success(SubmitResult{
			Hash:    res.Hash,
			Network: network.ID,
			Call:    req.Call.Name(),
			Sender:  sender(req),
			Payload: res.Payload,
		})
	}

	if fail := res.Failure(); fail != nil {
		details := map[string]string{"hash": fail.Hash}
		if fail.Status != "" {
			details["status"] = string(fail.Status)
		}
		if fail.Err != nil {
			details["cause"] = fail.Err.Error()
		}
		return report(f, ExitFailure, string(fail.Code), fail.Message, details)
	}

	switch {
	case engine.IsRequestError(res.Err):
		return report(f, ExitCommandError, ErrCodeInput, res.Err.Error(), nil)
	case errors.Is(res.Err, engine.ErrCancelled), errors.Is(res.Err, context.Canceled):
		return report(f, ExitFailure, ErrCodeGeneric, "stopped before the transaction resolved", map[string]string{"hash": res.Hash})
	default:
		return report(f, ExitFailure, ErrCodeGeneric, res.Err.Error(), nil)
	}
}
