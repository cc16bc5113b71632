// Command ca3node runs (or drives) a single CA3 collaborator: serve
// listens for peer requests, create-block drives a full collaborative
// round, and roster lists the node's static peer table. Structured as a
// cobra command tree of grouped subcommands, grounded on the teacher's
// cmd/synnergy/main.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergy-ca3/internal/config"
	"synnergy-ca3/internal/keystore"
	"synnergy-ca3/internal/ledger"
	"synnergy-ca3/internal/protocol"
	"synnergy-ca3/internal/signature"
	"synnergy-ca3/internal/transport"
	"synnergy-ca3/internal/trip"
)

func main() {
	rootCmd := &cobra.Command{Use: "ca3node"}
	rootCmd.PersistentFlags().String("config", "ca3.yaml", "path to node config YAML")
	rootCmd.PersistentFlags().String("mnemonic", "", "BIP-39 mnemonic for this node's signing key (generated if empty)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(createBlockCmd())
	rootCmd.AddCommand(rosterCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// wiring holds every collaborator a running node needs, assembled once per
// command invocation from the loaded config.
type wiring struct {
	cfg     *config.Config
	log     *logrus.Logger
	keys    *keystore.Store
	ledger  *ledger.MemoryFacade
	trips   *trip.Registry
	asm     *ledger.Assembler
	sig     *signature.Engine
	rost    *transport.Peer
	machine *protocol.Machine
	recv    *protocol.Receiver
}

func wireNode(cmd *cobra.Command) (*wiring, error) {
	configPath, _ := cmd.Flags().GetString("config")
	mnemonic, _ := cmd.Flags().GetString("mnemonic")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	rost, err := config.LoadRoster(cfg.RosterFile, cfg.Self.NodeName, cfg.AbnormalCountForJudging)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	ks := keystore.New(cfg.Self.NodeName, log)
	var pub []byte
	if mnemonic != "" {
		pub, err = ks.LoadMnemonic(mnemonic)
	} else {
		var phrase string
		phrase, pub, err = ks.GenerateLocalKey(256)
		if err == nil {
			log.WithField("mnemonic", phrase).Warn("generated a fresh signing key; back up this mnemonic")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	ks.AddPeerKey(cfg.Self.NodeName, pub)

	led, err := ledger.NewMemoryFacade("", log)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	dialer := transport.NewDialer(cfg.ConnectTimeout, 0)
	pool := transport.NewPool(dialer, cfg.PoolMaxIdle, cfg.PoolIdleTTL)
	peerTransport := transport.NewPeer(pool, rost, log)

	trips := trip.New()
	asm := ledger.NewAssembler(cfg.MaxSignNodes)
	sigEngine := signature.New(ks, cfg.MaxSignNodes)

	machine := protocol.New(cfg.Self.NodeName, led, trips, asm, sigEngine, peerTransport, log)
	machine.MinSignNodes = cfg.MinSignNodes
	machine.MaxSignNodes = cfg.MaxSignNodes
	machine.RejectEmptyDataBlocks = cfg.RejectEmptyDataBlocks
	machine.StrictEmptyTxSuppression = cfg.StrictEmptyTxSuppression

	recv := protocol.NewReceiver(cfg.Self.NodeName, machine, led, rost, log)

	return &wiring{
		cfg: cfg, log: log, keys: ks, ledger: led, trips: trips,
		asm: asm, sig: sigEngine, rost: peerTransport, machine: machine, recv: recv,
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "listen for CA3 peer requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wireNode(cmd)
			if err != nil {
				return err
			}
			defer w.ledger.Close()

			addr := fmt.Sprintf(":%d", w.cfg.Self.RPCPort)
			srv := transport.NewServer(addr, w.recv, w.log)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			w.log.WithField("addr", addr).Info("ca3node listening")
			return srv.ListenAndServe(ctx)
		},
	}
}

func createBlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-block [tenant]",
		Short: "drive a collaborative block-creation round for tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wireNode(cmd)
			if err != nil {
				return err
			}
			defer w.ledger.Close()

			typ, _ := cmd.Flags().GetString("type")
			driver := protocol.NewDriver(w.machine, w.cfg.MinLifeTimeMs, w.cfg.MaxLifeTimeMs)

			block, err := driver.CreateBlock(context.Background(), args[0], nil, ledger.BlockType(typ))
			if err != nil {
				return fmt.Errorf("create block: %w", err)
			}
			fmt.Printf("stored block %s at height %d with %d signatures\n", block.ID, block.Height, len(block.SignedBy))
			return nil
		},
	}
	cmd.Flags().String("type", string(ledger.BlockGenesis), "block type: genesis, data, parcel_open, parcel_close")
	return cmd
}

func rosterCmd() *cobra.Command {
	root := &cobra.Command{Use: "roster"}
	list := &cobra.Command{
		Use:   "list",
		Short: "print this node's static peer roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			rost, err := config.LoadRoster(cfg.RosterFile, cfg.Self.NodeName, cfg.AbnormalCountForJudging)
			if err != nil {
				return err
			}
			for _, e := range rost.All() {
				fmt.Printf("%-12s %-21s allow_outgoing=%-5v abnormal_count=%d\n", e.Name, e.Addr(), e.AllowOutgoing, e.AbnormalCount)
			}
			return nil
		},
	}
	root.AddCommand(list)
	return root
}
