// Command flipctl is the operator CLI: it reads pools, games and stakers
// straight from the contract and seals wallet keys for the daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pterm/pterm"

	"github.com/alanyoungcy/flareflip/internal/config"
	"github.com/alanyoungcy/flareflip/internal/crypto"
	"github.com/alanyoungcy/flareflip/internal/game"
	"github.com/alanyoungcy/flareflip/internal/platform/flareflip"
	"github.com/alanyoungcy/flareflip/internal/pools"
	"github.com/alanyoungcy/flareflip/internal/service"
	"github.com/alanyoungcy/flareflip/internal/store/sqlite"
)

const usage = `usage: flipctl [-config path] <command> [flags]

commands:
  pools        [-status s] [-search q] [-sort k] [-more n]
  game <id>    one-shot view of a pool from the configured viewer
  staker <address|me>
  encrypt-key  [-out path]   seal a private key for wallet.encrypted_key_path
`

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger := slog.New(pterm.NewSlogHandler(&pterm.DefaultLogger))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	case "encrypt-key":
		err = encryptKey(args)
	case "pools", "game", "staker":
		err = withClient(ctx, *configPath, logger, func(env *env) error {
			switch cmd {
			case "pools":
				return listPools(ctx, env, args)
			case "game":
				return showGame(ctx, env, args)
			default:
				return showStaker(ctx, env, args)
			}
		})
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

// env is what every chain command needs.
type env struct {
	cfg    *config.Config
	client *flareflip.Client
	viewer common.Address
	logger *slog.Logger
}

func withClient(ctx context.Context, path string, logger *slog.Logger, fn func(*env) error) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !common.IsHexAddress(cfg.Chain.ContractAddress) {
		return fmt.Errorf("chain.contract_address %q is not a hex address", cfg.Chain.ContractAddress)
	}
	rpc, err := flareflip.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return err
	}
	defer rpc.Close()

	e := &env{cfg: cfg, logger: logger}
	opts := []flareflip.Option{flareflip.WithLogger(logger)}
	src := crypto.KeySource{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if src.Configured() {
		signer, err := crypto.NewSignerFromSource(src, cfg.Chain.ChainID)
		if err != nil {
			return err
		}
		opts = append(opts, flareflip.WithSigner(signer))
		e.viewer = signer.Address()
	} else if cfg.Wallet.ViewerAddress != "" {
		e.viewer = common.HexToAddress(cfg.Wallet.ViewerAddress)
	}
	e.client = flareflip.NewClient(rpc, common.HexToAddress(cfg.Chain.ContractAddress), opts...)
	return fn(e)
}

func listPools(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("pools", flag.ContinueOnError)
	status := fs.String("status", "all", "open, filling, active, completed or all")
	search := fs.String("search", "", "asset or pool id substring")
	sortKey := fs.String("sort", "popularity", "popularity, reward, fee or filling")
	more := fs.Int("more", 0, "extra pages to load")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := pools.ParseStatusFilter(*status)
	if err != nil {
		return err
	}
	key, err := pools.ParseSortKey(*sortKey)
	if err != nil {
		return err
	}

	svc := service.NewPoolService(e.client, pools.NewList(e.cfg.Pools.FillingThreshold),
		nil, nil, nil, nil, e.cfg.Pools.PageSize, e.logger)
	spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Reading pools from the contract...")
	err = svc.Sync(ctx)
	spinner.Stop()
	if err != nil {
		return err
	}

	page := svc.List(pools.Query{Status: st, Search: *search, Sort: key}, *more)
	if err := pterm.DefaultTable.WithHasHeader().WithData(poolRows(page.Pools)).Render(); err != nil {
		return err
	}
	pterm.Info.Printfln("showing %d of %d pools", page.Visible, page.Total)
	if page.HasMore {
		pterm.Info.Printfln("more available: -more %d", *more+1)
	}
	return nil
}

func showGame(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: flipctl game <id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid pool id %q", args[0])
	}

	cfg := game.Config{
		PoolID:    id,
		Viewer:    e.viewer,
		Namespace: e.cfg.Watch.SelectionNamespace,
		Gateway:   e.client,
		Logger:    e.logger,
	}
	if e.cfg.Watch.SelectionBackend == "sqlite" {
		if store, err := sqlite.Open(e.cfg.Watch.SQLitePath); err == nil {
			defer store.Close()
			cfg.Selections = store
		}
	}
	r := game.NewReducer(cfg)

	spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start(fmt.Sprintf("Reading pool #%d...", id))
	err = r.Start(ctx)
	spinner.Stop()
	if err != nil {
		return err
	}

	v := r.Snapshot()
	pterm.DefaultSection.Println(gameTitle(v))
	if err := pterm.DefaultTable.WithData(gameSummary(v)).Render(); err != nil {
		return err
	}
	if len(v.RoundResults) > 0 {
		pterm.DefaultSection.WithLevel(2).Println("Rounds")
		return pterm.DefaultTable.WithHasHeader().WithData(roundRows(v)).Render()
	}
	return nil
}

func showStaker(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: flipctl staker <address|me>")
	}
	addr := e.viewer
	if args[0] != "me" {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("invalid address %q", args[0])
		}
		addr = common.HexToAddress(args[0])
	}

	st, err := e.client.Staker(ctx, addr)
	if err != nil {
		return err
	}
	created, err := e.client.UserPools(ctx, addr)
	if err != nil {
		return err
	}
	pterm.DefaultSection.Println("Staker " + addr.Hex())
	return pterm.DefaultTable.WithData(stakerRows(st, created, timeNow())).Render()
}

func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	out := fs.String("out", "wallet.key.json", "output key file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Private key (hex)")
	if err != nil {
		return err
	}
	password, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Password")
	if err != nil {
		return err
	}
	confirm, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("Repeat password")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}

	sealed, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, sealed, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	pterm.Success.Printfln("sealed key written to %s", *out)
	return nil
}
