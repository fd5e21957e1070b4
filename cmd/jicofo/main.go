// Command jicofo is the conference focus process: it joins every XMPP MUC it is asked
// to moderate, allocates and tears down Colibri sessions on behalf of each conference,
// and optionally exposes the HTTP surface spec.md §6 names.
package main

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/mux"
	"mellium.im/xmpp/sasl"
	"mellium.im/xmpp/stanza"

	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/colibri"
	"github.com/jitsi-contrib/jicofo-go/pkg/colibri/transport"
	"github.com/jitsi-contrib/jicofo-go/pkg/colibri/transport/xmppiq"
	"github.com/jitsi-contrib/jicofo-go/pkg/conference"
	"github.com/jitsi-contrib/jicofo-go/pkg/config"
	"github.com/jitsi-contrib/jicofo-go/pkg/jingle"
	"github.com/jitsi-contrib/jicofo-go/pkg/participant"
	"github.com/jitsi-contrib/jicofo-go/pkg/registry"
	"github.com/jitsi-contrib/jicofo-go/pkg/rest"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
	"github.com/jitsi-contrib/jicofo-go/pkg/telemetry"
	xmppbinding "github.com/jitsi-contrib/jicofo-go/pkg/xmpp"
	"github.com/jitsi-contrib/jicofo-go/pkg/xmpp/muc"
	"github.com/jitsi-contrib/jicofo-go/pkg/xmpp/ns"
)

func main() {
	var (
		configFilePath = flag.String("config", "config.yaml", "configuration file path")
		domain         = flag.String("domain", "", "XMPP domain (overrides config)")
		host           = flag.String("host", "", "XMPP server host (overrides config)")
		port           = flag.Int("port", 0, "XMPP server port (overrides config)")
		subdomain      = flag.String("subdomain", "", "conference MUC subdomain (overrides config)")
		secret         = flag.String("secret", "", "component secret (overrides config; prefer JICOFO_SECRET)")
		userDomain     = flag.String("user_domain", "", "client-mode auth domain (overrides config)")
		userName       = flag.String("user_name", "", "client-mode auth user (overrides config)")
		userPassword   = flag.String("user_password", "", "client-mode auth password (overrides config)")
	)
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig(*configFilePath)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
	}
	applyFlagOverrides(cfg, *domain, *host, *port, *subdomain, *secret, *userDomain, *userName, *userPassword)

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	logger := logrus.WithField("component", "jicofo")

	if cfg.Telemetry.Enabled() {
		if _, err := telemetry.SetupTelemetry(cfg.Telemetry); err != nil {
			logger.WithError(err).Fatal("could not set up telemetry")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := dialXMPP(ctx, cfg.XMPP, logger)
	if err != nil {
		logger.WithError(err).Fatal("could not connect to XMPP server")
	}
	defer client.Close()

	bridges := bridge.NewRegistry(logger.WithField("component", "bridges"))
	strategy := bridge.RegionStrategy{Config: cfg.Bridge.Selection}

	bridgeResolver := func(id bridge.ID) (jid.JID, error) {
		return jid.Parse(string(id))
	}
	colibriTransport := xmppiq.New(client.Session, bridgeResolver)

	factory := conferenceFactory(client, colibriTransport, bridges, strategy, cfg, logger)
	rooms := registry.New(logger.WithField("component", "registry"), factory, time.Now)

	jingleHandler := xmppbinding.NewJingleHandler(func(room jid.JID) (*conference.Conference, bool) {
		return rooms.Get(room.Bare().String())
	}, logger.WithField("component", "jingle"))

	m := mux.New(
		stanza.NSClient,
		mux.IQ(stanza.SetIQ, xml.Name{Space: ns.Jingle, Local: "jingle"}, jingleHandler),
	)

	go runSweeps(ctx, rooms, cfg.Registry)
	if cfg.REST.Addr != "" {
		go runREST(cfg.REST.Addr, bridges, rooms, func() bool { return true }, logger)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
		client.Close()
	}()

	if err := client.Serve(m); err != nil {
		logger.WithError(err).Warn("xmpp session ended")
	}
}

func applyFlagOverrides(cfg *config.Config, domain, host string, port int, subdomain, secret, userDomain, userName, userPassword string) {
	if domain != "" {
		cfg.XMPP.Domain = domain
	}
	if host != "" {
		cfg.XMPP.Host = host
	}
	if port != 0 {
		cfg.XMPP.Port = port
	}
	if subdomain != "" {
		cfg.XMPP.Subdomain = subdomain
	}
	if secret != "" {
		cfg.XMPP.Secret = secret
	}
	if userDomain != "" {
		cfg.XMPP.UserDomain = userDomain
	}
	if userName != "" {
		cfg.XMPP.UserName = userName
	}
	if userPassword != "" {
		cfg.XMPP.UserPassword = userPassword
	}
	if v := os.Getenv("JICOFO_SECRET"); v != "" {
		cfg.XMPP.Secret = v
	}
}

// dialXMPP opens the TCP connection to the XMPP server and negotiates the client
// session jicofo authenticates its component identity with.
func dialXMPP(ctx context.Context, cfg config.XMPP, logger *logrus.Entry) (*xmppbinding.Client, error) {
	origin, err := jid.Parse(fmt.Sprintf("focus.%s", cfg.Domain))
	if err != nil {
		return nil, fmt.Errorf("parsing origin jid: %w", err)
	}

	addr := cfg.Host
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, strconv.Itoa(cfg.Port))
	}
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	return xmppbinding.Dial(ctx, origin, conn, logger,
		xmpp.StartTLS(&tls.Config{ServerName: cfg.Domain}),
		xmpp.SASL("", cfg.Secret, sasl.Plain),
		xmpp.BindResource(),
	)
}

// conferenceFactory builds the registry.Factory that constructs one Conference per MUC
// room. The bridge fleet's transport, registry and selection strategy are shared process
// wide, but each room gets its own *colibri.Manager: Manager's ColibriSession map is keyed
// only by bridge.ID, so two rooms landed on the same bridge would otherwise collide and
// merge into a single Colibri session. conferenceFactory also wires the new Conference's
// SenderFactory to the Jingle encoding half and joins the room's presence stream so
// join/leave events reach it.
func conferenceFactory(client *xmppbinding.Client, colibriTransport transport.Client, bridges *bridge.Registry, strategy bridge.Strategy, cfg *config.Config, logger *logrus.Entry) registry.Factory {
	return func(roomID string) *conference.Conference {
		roomJID, err := jid.Parse(roomID)
		if err != nil {
			logger.WithError(err).WithField("room", roomID).Error("invalid room jid, conference will not join MUC")
		}

		graph := source.NewGraph(source.DefaultLimits)
		role := conference.NewFirstOccupantPolicy()
		mgr := colibri.NewManager(logger.WithField("room", roomID).WithField("component", "colibri"), colibriTransport, bridges, strategy)

		conf := conference.NewWithManager(roomID, logger.WithField("room", roomID), graph, mgr, role,
			func(m conference.Member) jingle.Sender {
				peer, _ := roomJID.WithResource(string(m.ID))
				return xmppbinding.NewJingleSender(client.Session, peer)
			},
			defaultOfferOptions(), time.Now,
		)

		if err == nil {
			go joinAndPipe(client, roomJID, conf, logger)
		}
		return conf
	}
}

func defaultOfferOptions() participant.OfferOptions {
	return participant.OfferOptions{
		ICE: true, DTLS: true, Audio: true, Video: true, SCTP: true,
		RTX: true, TCC: true, REMB: true,
		MinBitrate: 30000, StartBitrate: 800000, OpusMaxAverageBitrate: 0,
	}
}

// joinAndPipe joins roomJID as the focus occupant and forwards every presence-derived
// Joined/Left event onto conf for the conference's lifetime.
func joinAndPipe(client *xmppbinding.Client, roomJID jid.JID, conf *conference.Conference, logger *logrus.Entry) {
	ctx := context.Background()
	room, err := muc.Join(ctx, client.Session, roomJID, "focus", classifyMember, logger.WithField("room", roomJID.String()))
	if err != nil {
		logger.WithError(err).Error("failed to join MUC room")
		return
	}

	for {
		select {
		case m, ok := <-room.Joined:
			if !ok {
				return
			}
			if err := conf.OnMemberJoined(ctx, m); err != nil {
				logger.WithError(err).WithField("endpoint_id", m.ID).Warn("member join failed")
			}
		case id, ok := <-room.Left:
			if !ok {
				return
			}
			if err := conf.OnMemberLeft(ctx, id); err != nil {
				logger.WithError(err).WithField("endpoint_id", id).Warn("member leave failed")
			}
		}
	}
}

// classifyMember treats the conventional Jitsi recorder/SIP-gateway nick prefixes as
// bot-like service accounts; any deployment with differently-named service accounts
// supplies its own Classifier rather than jicofo guessing from nick alone.
func classifyMember(nick string, _ string) conference.MemberKind {
	switch {
	case strings.HasPrefix(nick, "recorder"):
		return conference.MemberRecorder
	case strings.HasPrefix(nick, "siptranslator"):
		return conference.MemberSIPGateway
	default:
		return conference.MemberRegular
	}
}

func runSweeps(ctx context.Context, rooms *registry.Registry, cfg config.Registry) {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rooms.SweepExpiredPins()
			rooms.SweepEmpty(ctx, cfg.EmptyGrace)
		}
	}
}

func runREST(addr string, bridges *bridge.Registry, rooms *registry.Registry, xmppAlive rest.XMPPHealth, logger *logrus.Entry) {
	srv := rest.NewServer(bridges, rooms, xmppAlive, "jicofo-go", logger.WithField("component", "rest"))
	logger.WithField("addr", addr).Info("starting REST server")
	if err := http.ListenAndServe(addr, srv); err != nil {
		logger.WithError(err).Error("rest server stopped")
	}
}
