// Command rtpsd runs one RTPS participant: loads a YAML configuration,
// binds its transport sockets, and drives the reactor until terminated,
// grounded on the teacher's flag-driven main() for source/server/server.go
// but restructured around github.com/spf13/cobra the way the rest of the
// example corpus (e.g. sakateka-yanet2's cmd/balancer) wires a CLI.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rtpsmw/rtpsmw/config"
	"github.com/rtpsmw/rtpsmw/discovery"
	"github.com/rtpsmw/rtpsmw/entity"
	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/locator"
	"github.com/rtpsmw/rtpsmw/reactor"
	"github.com/rtpsmw/rtpsmw/rtpslog"
	"github.com/rtpsmw/rtpsmw/security"
	"github.com/rtpsmw/rtpsmw/status"
	"github.com/rtpsmw/rtpsmw/transport"
	"github.com/rtpsmw/rtpsmw/wire"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:           "rtpsd",
		Short:         "Run one RTPS participant",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, debug)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to participant YAML config (required)")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")
	_ = root.MarkFlagRequired("config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rtpsd:", err)
		os.Exit(1)
	}
}

func run(configPath string, debug bool) error {
	log, err := rtpslog.New(debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	rtpslog.Banner(log, "rtpsd", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	leaseDuration := discovery.DefaultLeaseDuration
	if cfg.LeaseDuration != "" {
		if d, err := time.ParseDuration(cfg.LeaseDuration); err == nil {
			leaseDuration = d
		} else {
			log.Warnw("invalid lease_duration, using default", "value", cfg.LeaseDuration, "error", err)
		}
	}

	prefix := guid.NewPrefix()
	rtpslog.Section(log, "participant identity")
	log.Infow("generated participant GUID prefix", "prefix", prefix.String(), "domain_id", cfg.DomainID, "participant_id", cfg.ParticipantID)

	discPort := locator.DefaultPortParams.SPDPUnicastPort(cfg.DomainID, cfg.ParticipantID)
	userPort := locator.DefaultPortParams.UserUnicastPort(cfg.DomainID, cfg.ParticipantID)
	mcastDiscPort := locator.DefaultPortParams.SPDPMulticastPort(cfg.DomainID)

	unicastDisc, err := transport.Bind(discPort)
	if err != nil {
		return fmt.Errorf("bind unicast discovery socket: %w", err)
	}
	defer unicastDisc.Close()

	unicastData, err := transport.Bind(userPort)
	if err != nil {
		return fmt.Errorf("bind unicast data socket: %w", err)
	}
	defer unicastData.Close()

	spdpGroup := net.IPv4(239, 255, 0, 1)
	multicastDisc, err := transport.JoinMulticast(spdpGroup, mcastDiscPort)
	if err != nil {
		log.Warnw("failed to join SPDP multicast group; discovery will be unicast-only", "error", err)
		multicastDisc = nil
	} else {
		defer multicastDisc.Close()
	}

	unicastLocators, err := locator.LocalUnicastLocators(userPort)
	if err != nil {
		log.Warnw("failed to enumerate local interfaces", "error", err)
	}

	identity, err := loadSecurityIdentity(cfg.Security, prefix, log)
	if err != nil {
		return fmt.Errorf("load security identity: %w", err)
	}

	local := discovery.ParticipantBuiltinData{
		GuidPrefix:        prefix,
		ProtocolVersion:   wire.CurrentProtocolVersion,
		VendorID:          wire.OurVendorID,
		DefaultUnicastLoc: unicastLocators,
		LeaseDuration:     leaseDuration,
		SecuritySupported: identity != nil,
		EntityName:        fmt.Sprintf("rtpsd-%d-%d", cfg.DomainID, cfg.ParticipantID),
	}

	reg := prometheus.NewRegistry()
	metrics := status.NewMetrics(reg)

	registry := entity.NewRegistry(prefix)

	sockets := reactor.Sockets{
		UnicastData:        unicastData,
		UnicastDiscovery:   unicastDisc,
		MulticastDiscovery: multicastDisc,
	}
	re := reactor.New(prefix, cfg.DomainID, sockets, registry, local, identity, metrics, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Infow("participant starting", "discovery_port", discPort, "data_port", userPort, "multicast_discovery_port", mcastDiscPort)

	go logStatusEvents(ctx, re, log)

	if err := re.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reactor stopped: %w", err)
	}
	log.Infow("participant shutting down")
	return nil
}

// loadSecurityIdentity resolves the dds.sec.* properties named in cfg (spec.md
// §6) into a *security.LocalIdentity. It returns (nil, nil) when no identity
// certificate is configured: the participant then runs with security off and
// never authenticates any peer (reactor.peerAuthenticated).
func loadSecurityIdentity(cfg config.SecurityProps, prefix guid.Prefix, log *zap.SugaredLogger) (*security.LocalIdentity, error) {
	if cfg.IdentityCertificate == "" {
		return nil, nil
	}
	if config.IsPKCS11(cfg.IdentityCertificate) || config.IsPKCS11(cfg.PrivateKey) {
		return nil, fmt.Errorf("pkcs11 identity material is not supported by this build")
	}
	certPEM, err := config.LoadURI(cfg.IdentityCertificate)
	if err != nil {
		return nil, fmt.Errorf("load identity_certificate: %w", err)
	}
	keyPEM, err := config.LoadURI(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load private_key: %w", err)
	}
	var caPEM []byte
	if cfg.IdentityCA != "" {
		caPEM, err = config.LoadURI(cfg.IdentityCA)
		if err != nil {
			return nil, fmt.Errorf("load identity_ca: %w", err)
		}
	}
	var permissionsDoc []byte
	if cfg.Permissions != "" {
		permissionsDoc, err = config.LoadURI(cfg.Permissions)
		if err != nil {
			return nil, fmt.Errorf("load permissions: %w", err)
		}
	}
	participantData := []byte(prefix.String())
	identity, err := security.LoadLocalIdentity(certPEM, keyPEM, caPEM, permissionsDoc, participantData, prefix)
	if err != nil {
		return nil, err
	}
	log.Infow("loaded security identity", "subject", identity.Identity.Certificate.Subject.String())
	return identity, nil
}

// logStatusEvents drains the participant-wide status channel to the log,
// standing in for the application-facing status API spec.md §1 scopes out
// of this engine.
func logStatusEvents(ctx context.Context, re *reactor.Reactor, log *zap.SugaredLogger) {
	events := re.StatusEvents().Recv()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			log.Infow("status event", "kind", ev.Kind.String(), "entity", ev.Entity.String(), "detail", ev.Detail)
		}
	}
}
