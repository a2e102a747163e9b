// File: cmd/rxmux/cmd/listen.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The listen command opens the configured sockets, attaches them to one
// receive handler and logs every PDU until interrupted.

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/rxmux/api"
	"github.com/momentics/rxmux/control"
	"github.com/momentics/rxmux/internal/logging"
	"github.com/momentics/rxmux/pool"
	"github.com/momentics/rxmux/reactor"
	"github.com/momentics/rxmux/transport"
)

const (
	tcpBacklog = 16
	// bytes of each PDU shown in debug logs
	dumpBytes = 16
)

var (
	listenCfg control.Config
	ListenCmd = &cobra.Command{
		Use:   "listen",
		Short: "Receive PDUs on the configured sockets",
		Long: `Open the configured UDP, SCTP and TCP endpoints and service them from one
receive handler. Endpoints are ip:port, [ipv6]:port or a bare port. The
environment form is RXMUX_<FLAG> (e.g. RXMUX_SCTP=0.0.0.0:36412).

Send SIGUSR1 to dump metrics in Prometheus text format to stdout.`,
		PreRunE: processConfig,
		RunE:    runListen,
	}
)

func init() {
	d := control.DefaultConfig()
	flags := ListenCmd.PersistentFlags()

	key := control.KeyName
	flags.String(key, d.Name, WrapString("Name of the receive handler, used in logs and metric labels"))
	key = control.KeyPriority
	flags.Int(key, d.Priority, WrapString("Real-time priority offset of the receive thread (0 is highest, -1 keeps the default scheduler)"))
	key = control.KeyCPU
	flags.Int(key, d.CPU, WrapString("CPU the receive thread is pinned to (-1 disables pinning)"))
	key = control.KeyPoolSize
	flags.Int(key, d.PoolSize, WrapString("Size in bytes of each PDU buffer"))
	key = control.KeyPoolCapacity
	flags.Int(key, d.PoolCapacity, WrapString("Maximum number of PDU buffers outstanding at once (0 means unbounded)"))
	key = control.KeyUDP
	flags.StringSlice(key, nil, WrapString("UDP endpoints to receive on"))
	key = control.KeySCTP
	flags.StringSlice(key, nil, WrapString("SCTP endpoints to listen on (one-to-many sockets)"))
	key = control.KeyTCP
	flags.StringSlice(key, nil, WrapString("TCP endpoints to listen on (IPv4 only)"))
	key = control.KeyMetricsInterval
	flags.Duration(key, d.MetricsInterval, WrapString("How often counters are logged (0 disables)"))
}

// processConfig binds the flags to viper and resolves the configuration.
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if viper.ConfigFileUsed() != "" {
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", viper.ConfigFileUsed(), err)
		}
	}
	cfg, err := control.LoadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if len(cfg.UDP)+len(cfg.SCTP)+len(cfg.TCP) == 0 {
		return fmt.Errorf("no endpoints configured: set at least one of --udp, --sctp or --tcp")
	}
	listenCfg = cfg
	return nil
}

func runListen(cmd *cobra.Command, _ []string) error {
	cfg := listenCfg
	root, err := logging.NewLogger(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	log := logging.Component(root, cfg.Name)

	store := control.NewConfigStore(cfg)
	store.OnReload(func(old, updated control.Config) {
		if old.LogLevel == updated.LogLevel {
			return
		}
		if lvl, err := logrus.ParseLevel(updated.LogLevel); err == nil {
			root.SetLevel(lvl)
			log.WithField("level", updated.LogLevel).Info("Log level changed")
		}
	})
	if viper.ConfigFileUsed() != "" {
		control.WatchConfig(viper.GetViper(), store, log)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := control.NewMetrics(cfg.Name)
	bp := pool.NewBufferPool(cfg.PoolSize, cfg.PoolCapacity)
	d := &daemon{log: log, pool: bp, metrics: m}
	defer d.closeSockets()

	h, err := reactor.New(cfg.Name,
		reactor.WithLogger(log),
		reactor.WithPriority(cfg.Priority),
		reactor.WithCPU(cfg.CPU),
		reactor.WithPool(bp),
		reactor.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer h.Close()
	d.reg = h

	if err := d.open(cfg); err != nil {
		return err
	}

	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)
	probes.RegisterProbe("reactor.state", func() any { return h.State().String() })
	probes.RegisterProbe("reactor.sockets", func() any { return h.Len() })
	probes.RegisterProbe("pool.in_use", func() any { return bp.Stats().InUse })

	log.WithFields(logrus.Fields{
		"udp":  len(cfg.UDP),
		"sctp": len(cfg.SCTP),
		"tcp":  len(cfg.TCP),
	}).Info("Receive handler running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reportLoop(gctx, log, m, probes, cfg.MetricsInterval)
	})
	g.Go(func() error {
		return dumpOnSignal(gctx, m)
	})
	err = g.Wait()
	log.Info("Shutting down")
	return err
}

// daemon owns every socket opened by the listen command. Sockets are closed
// only after the handler has stopped.
type daemon struct {
	log     *logrus.Entry
	pool    *pool.BufferPool
	metrics *control.Metrics
	reg     *reactor.Handler

	sockets []*transport.Socket
	// accepted TCP connections, touched only from the reactor thread
	conns map[int]*transport.Socket
}

func (d *daemon) open(cfg control.Config) error {
	for _, ep := range cfg.UDP {
		if err := d.openUDP(ep); err != nil {
			return err
		}
	}
	for _, ep := range cfg.SCTP {
		if err := d.openSCTP(ep); err != nil {
			return err
		}
	}
	for _, ep := range cfg.TCP {
		if err := d.openTCP(ep); err != nil {
			return err
		}
	}
	return nil
}

func (d *daemon) openUDP(ep netip.AddrPort) error {
	s := transport.NewSocket(d.log)
	if err := s.Open(transport.FamilyOf(ep), transport.KindDatagram, transport.ProtoUDP); err != nil {
		return err
	}
	d.sockets = append(d.sockets, s)
	if err := s.Bind(transport.FormatAddress(ep), transport.PortOf(ep)); err != nil {
		return err
	}
	log := d.log.WithFields(logrus.Fields{"proto": "UDP", "local": transport.JoinHostPort(s.Addr())})
	log.Info("Listening")
	return d.reg.RegisterDatagram(s.FD(), func(pdu *pool.ByteBuffer, from netip.AddrPort) {
		logPDU(log, pdu, from).Debug("Received PDU")
		pdu.Release()
	})
}

func (d *daemon) openSCTP(ep netip.AddrPort) error {
	s, err := transport.SCTPListen(d.log, transport.FamilyOf(ep), transport.KindSeqPacket,
		transport.FormatAddress(ep), transport.PortOf(ep))
	if err != nil {
		return err
	}
	d.sockets = append(d.sockets, s)
	log := d.log.WithFields(logrus.Fields{"proto": "SCTP", "local": transport.JoinHostPort(s.Addr())})
	log.Info("Listening")
	return d.reg.RegisterSCTP(s.FD(), func(pdu *pool.ByteBuffer, from netip.AddrPort, info transport.SndRcvInfo, flags int) {
		defer pdu.Release()
		if flags&transport.MsgNotification == 0 {
			logPDU(log, pdu, from).WithFields(logrus.Fields{
				"assoc":  info.AssocID,
				"stream": info.Stream,
				"ppid":   info.PPID,
			}).Debug("Received PDU")
			return
		}
		n, err := transport.ParseNotification(pdu.Bytes())
		if err != nil {
			log.WithError(err).Warn("Malformed SCTP notification")
			return
		}
		log.WithFields(logrus.Fields{
			"event": n.Type.String(),
			"assoc": n.AssocID,
			"from":  transport.JoinHostPort(from),
		}).Info("SCTP notification")
	})
}

func (d *daemon) openTCP(ep netip.AddrPort) error {
	ln, err := transport.TCPListen(d.log, transport.FormatAddress(ep), transport.PortOf(ep), tcpBacklog)
	if err != nil {
		return err
	}
	d.sockets = append(d.sockets, ln)
	if d.conns == nil {
		d.conns = make(map[int]*transport.Socket)
	}
	log := d.log.WithFields(logrus.Fields{"proto": "TCP", "local": transport.JoinHostPort(ln.Addr())})
	log.Info("Listening")

	// accepting runs on the reactor thread and registers from there
	return d.reg.Register(ln.FD(), api.TaskFunc(func(int) bool {
		fd, peer, err := transport.TCPAccept(d.log, ln)
		if err != nil {
			return true
		}
		conn := transport.NewSocket(d.log)
		if err := conn.Adopt(fd, peer); err != nil {
			_ = transport.CloseFD(fd)
			return true
		}
		clog := log.WithField("peer", transport.JoinHostPort(peer))
		stream := reactor.NewStreamTask(d.log, d.pool, d.metrics, func(pdu *pool.ByteBuffer) {
			logPDU(clog, pdu, peer).Debug("Received stream data")
			pdu.Release()
		})
		err = d.reg.Register(fd, api.TaskFunc(func(fd int) bool {
			if stream.Invoke(fd) {
				return true
			}
			delete(d.conns, fd)
			_ = conn.Close()
			return false
		}))
		if err != nil {
			_ = conn.Close()
			return true
		}
		d.conns[fd] = conn
		clog.Info("Accepted connection")
		return true
	}))
}

func (d *daemon) closeSockets() {
	for _, c := range d.conns {
		_ = c.Close()
	}
	for _, s := range d.sockets {
		_ = s.Close()
	}
}

func logPDU(log *logrus.Entry, pdu *pool.ByteBuffer, from netip.AddrPort) *logrus.Entry {
	b := pdu.Bytes()
	if len(b) > dumpBytes {
		b = b[:dumpBytes]
	}
	return log.WithFields(logrus.Fields{
		"len":  pdu.N,
		"from": transport.JoinHostPort(from),
		"hex":  hex.EncodeToString(b),
	})
}

func reportLoop(ctx context.Context, log *logrus.Entry, m *control.Metrics, probes *control.DebugProbes, every time.Duration) error {
	if every <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fields := logrus.Fields{}
			for k, v := range m.GetSnapshot() {
				fields[k] = v
			}
			for k, v := range probes.DumpState() {
				fields[k] = v
			}
			log.WithFields(fields).Info("Receive statistics")
		}
	}
}

func dumpOnSignal(ctx context.Context, m *control.Metrics) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			m.WritePrometheus(os.Stdout)
		}
	}
}
