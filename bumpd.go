package bumpd

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/chainbump/bumpd/bitcoind"
	"github.com/chainbump/bumpd/build"
	"github.com/chainbump/bumpd/bump"
	"github.com/chainbump/bumpd/cln"
	"github.com/chainbump/bumpd/signal"
)

const (
	// optRPCUser names the lightningd option carrying the bitcoind RPC
	// user.
	optRPCUser = "bump_brpc_user"

	// optRPCPass names the lightningd option carrying the bitcoind RPC
	// password.
	optRPCPass = "bump_brpc_pass"

	// optRPCPort names the lightningd option carrying the bitcoind RPC
	// port.
	optRPCPort = "bump_brpc_port"

	// bumpMethod is the RPC method the plugin adds to lightningd.
	bumpMethod = "bumpchannelopen"
)

// server bundles the backend connections assembled during the plugin init
// handshake. The mutex guards the fields against the teardown in Main racing
// a late init.
type server struct {
	sync.Mutex

	cfg         *Config
	interceptor signal.Interceptor

	wallet  *cln.Client
	chain   *bitcoind.Client
	monitor *healthcheck.Monitor
	bumper  *bump.Bumper
}

// Main is the true entry point for bumpd. It speaks the plugin protocol on
// stdin and stdout, bringing up the backend connections once lightningd
// shares its configuration through the init call. It returns when lightningd
// closes our input stream or a shutdown is requested through the passed
// interceptor.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	defer func() {
		bmpdLog.Info("Shutdown complete")
		err := logRotator.Close()
		if err != nil {
			bmpdLog.Errorf("Could not close log rotator: %v", err)
		}
	}()

	// Show version at startup.
	bmpdLog.Infof("Version: %s, debuglevel=%s", build.Version(),
		cfg.DebugLevel)

	srvr := &server{
		cfg:         cfg,
		interceptor: interceptor,
	}

	plugin := cln.NewPlugin(os.Stdin, os.Stdout)
	plugin.RegisterOption(&cln.Option{
		Name:        optRPCUser,
		Type:        cln.OptionString,
		Description: "bitcoin rpc user",
	})
	plugin.RegisterOption(&cln.Option{
		Name:        optRPCPass,
		Type:        cln.OptionString,
		Description: "bitcoin rpc password",
	})
	plugin.RegisterOption(&cln.Option{
		Name:        optRPCPort,
		Type:        cln.OptionInt,
		Description: "bitcoin rpc port",
	})
	plugin.RegisterMethod(&cln.Method{
		Name:  bumpMethod,
		Usage: "txid vout amount [yolo]",
		Description: "Creates a CPFP transaction to bump the feerate " +
			"of a parent output, with checks for emergency " +
			"reserve.",
		LongDescription: "Creates a Child-Pays-For-Parent (CPFP) " +
			"transaction to increase the feerate of a specified " +
			"output. Use `listfunds` to check unreserved funds " +
			"before bumping. Amount must end with 'sats' (fixed " +
			"fee) or 'satvb' (fee rate in sat/vB). Use `yolo` " +
			"mode to broadcast transaction automatically",
		Handler: srvr.handleBump,
	})

	plugin.OnInit(func(msg *cln.InitMessage) error {
		return srvr.start(plugin, msg)
	})
	plugin.OnShutdown(interceptor.RequestShutdown)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Serve the plugin protocol until lightningd closes the stream. The
	// loop owns stdin, so it runs on its own goroutine and reports back
	// through the error channel.
	errChan := make(chan error, 1)
	go func() {
		errChan <- plugin.Run(ctx)
	}()

	var runErr error
	select {
	case runErr = <-errChan:

	case <-interceptor.ShutdownChannel():
		bmpdLog.Infof("Received shutdown request.")
	}

	// Cancel any call still in flight before tearing down the backends it
	// talks through.
	cancel()
	srvr.stop()

	return runErr
}

// start brings up the backend connections with the node configuration
// lightningd shared during init. It runs on the plugin's dispatch loop, so
// lightningd is still waiting for the init response while this executes, and
// any error returned here disables the plugin rather than the node.
func (s *server) start(plugin *cln.Plugin, msg *cln.InitMessage) error {
	// From here on our own log output is also forwarded to lightningd,
	// which merges it into its log under the plugin's name. Hooking this
	// up first makes the backend bring-up below visible on the node.
	logWriter.NotifyPipe = cln.NewNotificationWriter(plugin)

	chainCfg := bitcoind.Config{
		Network: msg.Configuration.Network,
		Host:    s.cfg.Bitcoind.RPCHost,
		Port:    s.cfg.Bitcoind.RPCPort,
		User:    s.cfg.Bitcoind.RPCUser,
		Pass:    s.cfg.Bitcoind.RPCPass,
		Cookie:  s.cfg.Bitcoind.RPCCookie,
		DataDir: s.cfg.Bitcoind.Dir,
	}

	// Options set on lightningd's own command line or config file beat
	// the values from bumpd.conf.
	if user, ok := msg.StringOption(optRPCUser); ok && user != "" {
		chainCfg.User = user
	}
	if pass, ok := msg.StringOption(optRPCPass); ok && pass != "" {
		chainCfg.Pass = pass
	}
	if port, ok := msg.IntOption(optRPCPort); ok && port != 0 {
		chainCfg.Port = int(port)
	}

	chain, err := bitcoind.New(chainCfg)
	if err != nil {
		return err
	}
	if err := chain.Start(); err != nil {
		return err
	}

	wallet := cln.NewClient(msg.SocketPath())

	// Watch the chain backend with a recurring health check, requesting
	// shutdown when it stays unreachable. lightningd restarts us on the
	// next plugin rescan once bitcoind is back.
	var monitor *healthcheck.Monitor
	if s.cfg.ChainCheck.Attempts > 0 {
		shutdownLog := build.NewShutdownLogger(
			bmpdLog, s.interceptor.RequestShutdown,
		)
		monitor = healthcheck.NewMonitor(&healthcheck.Config{
			Checks: []*healthcheck.Observation{{
				Name: "chain backend",
				Check: healthcheck.CreateCheck(
					chain.HealthCheck,
				),
				Interval: ticker.New(s.cfg.ChainCheck.Interval),
				Attempts: s.cfg.ChainCheck.Attempts,
				Timeout:  s.cfg.ChainCheck.Timeout,
				Backoff:  s.cfg.ChainCheck.Backoff,
			}},
			Shutdown: shutdownLog.Criticalf,
		})
		if err := monitor.Start(); err != nil {
			chain.Stop()
			return err
		}
	}

	s.Lock()
	s.wallet = wallet
	s.chain = chain
	s.monitor = monitor
	s.bumper = bump.New(&bump.Config{
		Wallet: wallet,
		Chain:  chain,
	})
	s.Unlock()

	bmpdLog.Infof("Plugin active, lightning-rpc at %v", msg.SocketPath())

	return nil
}

// stop tears down whatever start managed to bring up.
func (s *server) stop() {
	s.Lock()
	defer s.Unlock()

	if s.monitor != nil {
		if err := s.monitor.Stop(); err != nil {
			bmpdLog.Warnf("Unable to stop health monitor: %v", err)
		}
		s.monitor = nil
	}
	if s.wallet != nil {
		if err := s.wallet.Close(); err != nil {
			bmpdLog.Warnf("Unable to close lightning-rpc "+
				"connection: %v", err)
		}
		s.wallet = nil
	}
	if s.chain != nil {
		s.chain.Stop()
		s.chain = nil
	}
}

// handleBump answers the bumpchannelopen method. Parameters arrive either
// positional or named, exactly as lightningd received them on its own RPC
// surface.
func (s *server) handleBump(ctx context.Context,
	params json.RawMessage) (interface{}, error) {

	var req bump.Request
	err := cln.ParseParams(
		params, []string{"txid", "vout", "amount", "yolo"}, 3,
		&req.Txid, &req.Vout, &req.Amount, &req.Yolo,
	)
	if err != nil {
		return nil, err
	}

	s.Lock()
	bumper := s.bumper
	s.Unlock()

	// The plugin host rejects method calls until init has completed, so
	// the bumper is always in place by the time we get here.
	return bumper.Bump(ctx, &req)
}
