package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agoramesh/node/core"
	"github.com/agoramesh/node/pkg/config"
)

// node bundles the wired core components a running AgoraMesh process needs,
// assembled once at startup by newNode.
type node struct {
	swarm      *core.LibP2PSwarm
	discovery  *core.Discovery
	trust      *core.Engine
	arbitrator *core.AIArbitrator
	jurors     *core.Pool
	community  *core.CommunityArbitrator
	cache      *core.Cache
	handler    *core.Handler
}

func newNode(cfg *config.Config) (*node, error) {
	swarm, err := core.NewLibP2PSwarm(core.LibP2PConfig{
		ListenAddr:     cfg.Network.ListenAddr,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
		BootstrapPeers: cfg.Network.BootstrapPeers,
	})
	if err != nil {
		return nil, fmt.Errorf("start swarm: %w", err)
	}
	for _, topic := range []string{core.TopicDiscovery, core.TopicCapability, core.TopicTrust, core.TopicDisputes} {
		if err := swarm.SubscribeTopic(topic); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	trustEngine := core.NewEngine(nil)
	trustEngine.SetWeights(core.Weights{
		Reputation:  cfg.Trust.WeightReputation,
		Stake:       cfg.Trust.WeightStake,
		Endorsement: cfg.Trust.WeightEndorsement,
	})

	discovery := core.NewDiscovery(core.DefaultDiscoveryConfig(), swarm, nil, nil)

	arbitrator := core.NewAIArbitrator(core.ArbitratorConfig{
		EvidencePeriod:      cfg.Arbitration.EvidencePeriod,
		MaxEvidencePerParty: cfg.Arbitration.MaxEvidencePerParty,
	}, nil)

	jurorPool := core.NewPool(core.JurorPoolConfig{
		MinStakeUSDC:      cfg.Juror.MinStakeUSDC,
		MaxEffectiveStake: cfg.Juror.MaxEffectiveStake,
	})

	community := core.NewCommunityArbitrator(jurorPool, core.CommunityConfig{
		EvidencePeriod: cfg.Community.EvidencePeriod,
		CommitPeriod:   cfg.Community.CommitPeriod,
		RevealPeriod:   cfg.Community.RevealPeriod,
		StakeAtRiskBps: cfg.Community.StakeAtRiskBps,
	})

	cache := core.NewCache(cfg.Cache.MaxEntries, cfg.Cache.TTL, cfg.Cache.Enabled)

	handler := core.NewHandler(core.Services{
		Discovery:  discovery,
		Trust:      trustEngine,
		Arbitrator: arbitrator,
	})

	return &node{
		swarm:      swarm,
		discovery:  discovery,
		trust:      trustEngine,
		arbitrator: arbitrator,
		jurors:     jurorPool,
		community:  community,
		cache:      cache,
		handler:    handler,
	}, nil
}

// pump ranges over the swarm's event stream, routing Message events to the
// handler and logging everything else at debug.
func (n *node) pump() {
	for ev := range n.swarm.Events() {
		switch ev.Kind {
		case core.EventMessage:
			if err := n.handler.HandleMessage(ev.Topic, ev.Data); err != nil {
				logrus.WithError(err).WithField("topic", ev.Topic).Warn("message handling failed")
			}
		default:
			logrus.WithField("kind", ev.Kind).Debug("swarm event")
		}
	}
}

func (n *node) shutdown() error { return n.swarm.Shutdown() }

func rootInit(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	if _, err := config.LoadFromEnv(); err != nil {
		return err
	}
	lv, err := logrus.ParseLevel(config.AppConfig.Logging.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lv)
	return nil
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "start",
		Short:        "start an AgoraMesh node",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			core.InitMetrics(nil)

			n, err := newNode(&config.AppConfig)
			if err != nil {
				return err
			}
			go n.pump()

			logrus.WithField("listen_addr", config.AppConfig.Network.ListenAddr).Info("agoramesh node started")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logrus.Info("shutting down")
			return n.shutdown()
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:               "agoramesh",
		Short:             "AgoraMesh agent-discovery and trust substrate node",
		PersistentPreRunE: rootInit,
	}
	root.AddCommand(startCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
