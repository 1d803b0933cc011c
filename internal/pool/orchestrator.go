// Package pool wires the daemon RPC client, Job Manager, VarDiff manager,
// P2P peer, and Stratum server into the single boot sequence and block
// submission pipeline spec §4.7 describes. Grounded on the teacher's
// internal/stratum/pool_coordinator.go (the one file in the pack that
// owns "start everything, hold the current job, broadcast on change"),
// generalized from the teacher's single in-process coordinator (which
// embeds its own listener and share batching) to a thinner orchestrator
// that composes the already-built stratumserver/jobmanager/vardiff/
// p2ppeer packages rather than re-implementing their concerns.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vertexpool/stratum-core/internal/algorithm"
	"github.com/vertexpool/stratum-core/internal/banstore"
	"github.com/vertexpool/stratum-core/internal/blocktemplate"
	"github.com/vertexpool/stratum-core/internal/coinbase"
	"github.com/vertexpool/stratum-core/internal/jobmanager"
	"github.com/vertexpool/stratum-core/internal/metrics"
	"github.com/vertexpool/stratum-core/internal/p2ppeer"
	"github.com/vertexpool/stratum-core/internal/poolconfig"
	"github.com/vertexpool/stratum-core/internal/rpcclient"
	"github.com/vertexpool/stratum-core/internal/sharesink"
	"github.com/vertexpool/stratum-core/internal/stratumserver"
	"github.com/vertexpool/stratum-core/internal/vardiff"
)

// syncInProgressCode is the JSON-RPC error code daemons in this family use
// for "still downloading/verifying blocks", spec §4.7.
const syncInProgressCode = -9

// Recipients maps payout address to percentage share, spec §4.7's
// "recipients setup" step.
type Recipients map[string]float64

// StartupInfo is the batch of facts spec §4.7's probe step collects before
// the pool is allowed to come up.
type StartupInfo struct {
	AddressValid      bool
	IsProofOfStake    bool
	HasSubmitMethod   bool
	Testnet           bool
	ProtocolVersion   int64
	StartHeight       int64
	InitialDifficulty float64
	NetworkHashrate   float64
}

// Orchestrator is the top-level object one coin instance of the pool runs.
type Orchestrator struct {
	cfg    poolconfig.Config
	logger *slog.Logger

	rpc      *rpcclient.Client
	jobs     *jobmanager.Manager
	vardiffs map[string]*vardiff.Manager // keyed by port
	servers  map[string]*stratumserver.Server
	peer     *p2ppeer.Peer
	metrics  *metrics.Metrics
	sink     *sharesink.Sink
	bans     *banstore.Store

	mu               sync.Mutex
	submittedBlocks  map[string]bool
	blockPollCancel  context.CancelFunc
	startupInfo      StartupInfo

	OnStarted func()
}

// New constructs an Orchestrator from configuration. It performs no I/O;
// call Start to run the boot sequence.
func New(cfg poolconfig.Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	daemons := make([]rpcclient.DaemonConfig, len(cfg.Daemons))
	for i, d := range cfg.Daemons {
		daemons[i] = rpcclient.DaemonConfig{
			ID:       fmt.Sprintf("daemon-%d", i),
			Host:     d.Host,
			Port:     d.Port,
			User:     d.User,
			Password: d.Password,
		}
	}

	o := &Orchestrator{
		cfg:             cfg,
		logger:          logger.With("component", "pool", "pool_id", cfg.PoolID),
		rpc:             rpcclient.NewClient(rpcclient.Config{Daemons: daemons, Logger: logger}),
		vardiffs:        make(map[string]*vardiff.Manager),
		servers:         make(map[string]*stratumserver.Server),
		metrics:         metrics.New(),
		submittedBlocks: make(map[string]bool),
	}
	return o
}

// Start runs the spec §4.7 boot sequence end to end, returning once the
// pool is fully online and serving miners.
func (o *Orchestrator) Start(ctx context.Context) error {
	// 1. VarDiff setup, one manager per configured port.
	for port, pc := range o.cfg.Ports {
		if pc.VarDiff == nil {
			continue
		}
		port := port
		o.vardiffs[port] = vardiff.NewManager(vardiff.Config{
			TargetTime:      pc.VarDiff.TargetTime,
			VariancePercent: pc.VarDiff.VariancePercent,
			RetargetTime:    pc.VarDiff.RetargetTime,
			MinDiff:         pc.VarDiff.MinDiff,
			MaxDiff:         pc.VarDiff.MaxDiff,
			X2Mode:          pc.VarDiff.X2Mode,
		}, func(clientID string, diff float64) {
			if srv, ok := o.servers[port]; ok {
				srv.SendDifficultyTo(clientID, diff)
			}
		})
	}

	// 2. API hook is out of scope for this core (spec §9); skipped.

	// 3. RPC online check.
	if ev := o.rpc.CheckOnline(ctx); ev == rpcclient.EventConnectionFailed {
		return errors.New("pool: one or more daemons failed the online check")
	}

	// 4. Startup probe: getinfo, getmininginfo, validateaddress, and a
	// submitblock probe (for has_submit_method), each issued as its own
	// fan-out call rather than one batch. getdifficulty is not queried; the
	// initial difficulty is taken from getinfo.
	info, err := o.probe(ctx)
	if err != nil {
		return fmt.Errorf("pool: startup probe: %w", err)
	}
	o.startupInfo = info
	if !info.AddressValid {
		return errors.New("pool: configured payout address is invalid")
	}

	// Ambient wiring not named by spec §4.7 itself but required to
	// construct the collaborators it does name: Redis share sink and
	// optional Postgres ban store.
	if o.cfg.RedisURL != "" {
		sinkCfg, err := sharesinkConfigFromURL(o.cfg.RedisURL, o.cfg.PoolID)
		if err != nil {
			o.logger.Warn("pool: invalid redis url, share sink disabled", "err", err)
		} else if sink, err := sharesink.New(sinkCfg); err != nil {
			o.logger.Warn("pool: share sink unavailable", "err", err)
		} else {
			o.sink = sink
		}
	}
	if o.cfg.DatabaseURL != "" {
		banCfg, err := banstoreConfigFromURL(o.cfg.DatabaseURL)
		if err != nil {
			o.logger.Warn("pool: invalid database url, ban store disabled", "err", err)
		} else if store, err := banstore.Open(ctx, banCfg); err != nil {
			o.logger.Warn("pool: ban store unavailable", "err", err)
		} else {
			o.bans = store
		}
	}

	// 5. Recipients setup.
	recipients := Recipients(o.cfg.RewardRecipients)
	o.logger.Info("pool: recipients configured", "count", len(recipients))

	// 6. Job Manager.
	o.jobs = jobmanager.NewManager(
		jobmanager.Config{
			BuildConfig:         o.buildConfigFor(info),
			AcceptOldJobShares:  o.cfg.AcceptOldJobShares,
			AcceptLowDiffShares: o.cfg.AcceptLowDiffShares,
		},
		jobmanager.EventHandlers{
			OnNewBlock:     o.onNewBlock,
			OnUpdatedBlock: o.onUpdatedBlock,
			OnShare:        o.onShare,
			OnLog: func(level, message string) {
				o.logger.Log(ctx, slogLevel(level), message)
			},
		},
	)

	// 7. Wait for daemon sync.
	if err := o.waitForSync(ctx); err != nil {
		return fmt.Errorf("pool: wait for daemon sync: %w", err)
	}

	// 8. First template.
	if err := o.pollTemplate(ctx); err != nil {
		return fmt.Errorf("pool: fetch first template: %w", err)
	}

	// 8b. Optional block polling loop (spec §4.7 "optional block polling").
	pollCtx, cancel := context.WithCancel(ctx)
	o.blockPollCancel = cancel
	go o.blockPollLoop(pollCtx)

	// 9. P2P.
	if o.cfg.P2P.Enabled {
		o.peer = p2ppeer.NewPeer(p2ppeer.Config{
			Host:            o.cfg.P2P.Host,
			Port:            o.cfg.P2P.Port,
			Magic:           o.peerMagic(info.Testnet),
			ProtocolVersion: int32(info.ProtocolVersion),
			UserAgent:       "/stratum-core:1.0/",
			StartHeight:     int32(info.StartHeight),
			Nonce:           randomNonce(),
			Logger:          o.logger,
			OnBlockFound: func(hashHex string) {
				o.logger.Info("pool: p2p inv block", "hash", hashHex)
				go o.pollTemplate(ctx)
			},
			OnConnectionFailed: func(err error) {
				o.logger.Error("pool: p2p connection refused, giving up", "err", err)
			},
		})
		go o.peer.Run()
	}

	// 10. Stratum server(s), one per configured port.
	for port, pc := range o.cfg.Ports {
		portNum, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("pool: invalid port %q: %w", port, err)
		}
		srvCfg := stratumserver.Config{
			Host:               "0.0.0.0",
			Port:               portNum,
			TLSEnabled:         pc.TLS && o.cfg.TLSOptions.Enabled,
			TLSCertFile:        o.cfg.TLSOptions.ServerCert,
			TLSKeyFile:         o.cfg.TLSOptions.ServerKey,
			ExtraNonce2Size:    4,
			ConnectionTimeout:  o.cfg.ConnectionTimeout,
			RebroadcastTimeout: o.cfg.JobRebroadcastTimeout,
			InstanceID:         o.cfg.InstanceID,
			CheckThreshold:     o.cfg.Banning.CheckThreshold,
			InvalidPercent:     o.cfg.Banning.InvalidPercent,
			PowLimit:           algorithm.Diff1Big(),
			ShareProcessor:     o.jobs,
			Logger:             o.logger,
			OnBan: func(ip string) {
				if o.bans != nil {
					go o.bans.Ban(context.Background(), o.cfg.PoolID, ip, time.Now())
				}
				o.metrics.BannedIPs.WithLabelValues(o.cfg.PoolID).Inc()
			},
		}
		srv := stratumserver.NewServer(srvCfg, o.cfg.Banning.Banned)
		o.servers[port] = srv
		go func() {
			if err := srv.Serve(); err != nil {
				o.logger.Error("pool: stratum server stopped", "port", port, "err", err)
			}
		}()
	}

	if job := o.jobs.CurrentJob(); job != nil {
		o.broadcastJob(job, true)
	}

	if o.OnStarted != nil {
		o.OnStarted()
	}
	o.logger.Info("started")
	return nil
}

// Stop tears down every running collaborator.
func (o *Orchestrator) Stop() {
	if o.blockPollCancel != nil {
		o.blockPollCancel()
	}
	if o.peer != nil {
		o.peer.Stop()
	}
	for _, srv := range o.servers {
		srv.Stop()
	}
	if o.sink != nil {
		o.sink.Close()
	}
	if o.bans != nil {
		o.bans.Close()
	}
}

func (o *Orchestrator) probe(ctx context.Context) (StartupInfo, error) {
	info := StartupInfo{AddressValid: true, HasSubmitMethod: true}

	if results := o.rpc.Call(ctx, "getinfo", nil); len(results) > 0 && results[0].Err == nil {
		var gi struct {
			ProtocolVersion int64   `json:"protocolversion"`
			Blocks          int64   `json:"blocks"`
			Difficulty      float64 `json:"difficulty"`
			Testnet         bool    `json:"testnet"`
		}
		if err := unmarshalFirst(results, &gi); err == nil {
			info.ProtocolVersion = gi.ProtocolVersion
			info.StartHeight = gi.Blocks
			info.InitialDifficulty = gi.Difficulty
			info.Testnet = gi.Testnet
		}
	}

	if results := o.rpc.Call(ctx, "getmininginfo", nil); len(results) > 0 && results[0].Err == nil {
		var mi struct {
			NetworkHashPS float64 `json:"networkhashps"`
			PoS           bool    `json:"pos,omitempty"`
		}
		if err := unmarshalFirst(results, &mi); err == nil {
			info.NetworkHashrate = mi.NetworkHashPS
			info.IsProofOfStake = mi.PoS
		}
	}

	if results := o.rpc.Call(ctx, "validateaddress", []interface{}{o.payoutAddress()}); len(results) > 0 {
		if results[0].Err == nil {
			var va struct {
				IsValid bool `json:"isvalid"`
			}
			if err := unmarshalFirst(results, &va); err == nil {
				info.AddressValid = va.IsValid
			}
		}
	}

	// submitblock probe: daemons return code -1 ("wrong args") when the
	// method exists but is called with bogus args; "Method not found"
	// means has_submit_method is false.
	if results := o.rpc.Call(ctx, "submitblock", []interface{}{""}); len(results) > 0 {
		if results[0].Err != nil && strings.Contains(results[0].Err.Error(), "Method not found") {
			info.HasSubmitMethod = false
		}
	}

	return info, nil
}

func (o *Orchestrator) payoutAddress() string {
	for addr := range o.cfg.RewardRecipients {
		return addr
	}
	return ""
}

func (o *Orchestrator) waitForSync(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		results := o.rpc.Call(ctx, "getblocktemplate", []interface{}{map[string]interface{}{}})
		if len(results) == 0 {
			return errors.New("no daemon responded")
		}
		if results[0].Err == nil {
			return nil
		}
		if strings.Contains(results[0].Err.Error(), fmt.Sprintf("%d", syncInProgressCode)) {
			o.logger.Info("pool: daemon still syncing, waiting")
			time.Sleep(5 * time.Second)
			continue
		}
		return results[0].Err
	}
}

func (o *Orchestrator) pollTemplate(ctx context.Context) error {
	results := o.rpc.Call(ctx, "getblocktemplate", []interface{}{map[string]interface{}{}})
	if len(results) == 0 || results[0].Err != nil {
		if len(results) > 0 {
			return results[0].Err
		}
		return errors.New("no daemon responded")
	}
	var tmpl blocktemplate.Template
	if err := unmarshalFirst(results, &tmpl); err != nil {
		return fmt.Errorf("pool: decode template: %w", err)
	}
	o.jobs.ProcessTemplate(&tmpl)
	return nil
}

func (o *Orchestrator) blockPollLoop(ctx context.Context) {
	interval := o.cfg.BlockRefreshInterval
	if interval <= 0 {
		return // block_refresh_interval of 0 disables polling
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.pollTemplate(ctx); err != nil {
				o.logger.Debug("pool: template poll failed", "err", err)
			}
		}
	}
}

func (o *Orchestrator) onNewBlock(job *blocktemplate.Job) {
	o.broadcastJob(job, true)
}

func (o *Orchestrator) onUpdatedBlock(job *blocktemplate.Job, cleanJobs bool) {
	o.broadcastJob(job, cleanJobs)
}

func (o *Orchestrator) broadcastJob(job *blocktemplate.Job, cleanJobs bool) {
	params := job.NotifyParams(cleanJobs)
	o.metrics.JobsEmittedTotal.WithLabelValues(o.cfg.PoolID, strconv.FormatBool(cleanJobs)).Inc()
	for _, srv := range o.servers {
		srv.BroadcastMiningJobs(params)
	}
}

// onShare handles the post-validation orchestration spec §4.7's "Block
// submission" paragraph describes: submitblock/submitmergedblock selection,
// duplicate-submit guard, and getblock-based acceptance classification.
func (o *Orchestrator) onShare(ev jobmanager.ShareEvent) {
	result := "invalid"
	if ev.IsValidShare {
		result = "valid"
	}
	o.metrics.SharesTotal.WithLabelValues(o.cfg.PoolID, result).Inc()

	if ev.IsValidBlock && ev.BlockHex != "" {
		ev = o.submitBlock(ev)
	}

	if o.sink != nil {
		o.sink.PublishAsync(ev, func(err error) {
			o.logger.Warn("pool: share sink publish failed", "err", err)
		})
	}
}

// submitBlock submits a block candidate to the daemon and, per spec §4.7,
// returns the share event annotated with the acceptance classification and
// coinbase tx hash (or a submission error) before it is published downward.
func (o *Orchestrator) submitBlock(ev jobmanager.ShareEvent) jobmanager.ShareEvent {
	o.mu.Lock()
	if o.submittedBlocks[ev.BlockHex] {
		o.mu.Unlock()
		o.logger.Debug("pool: duplicate block submission ignored", "hash", ev.BlockHash)
		ev.SubmissionError = "duplicate submission"
		return ev
	}
	o.submittedBlocks[ev.BlockHex] = true
	o.mu.Unlock()

	ctx := context.Background()
	method := "submitblock"
	if solutionVersionOver6(ev.BlockHex) {
		method = "submitmergedblock"
	}

	results := o.rpc.Call(ctx, method, []interface{}{ev.BlockHex})
	accepted := false
	for _, r := range results {
		if r.Err == nil {
			accepted = true
			break
		}
	}
	if !accepted && !o.startupInfo.HasSubmitMethod {
		results = o.rpc.Call(ctx, "getblocktemplate", []interface{}{map[string]interface{}{
			"mode": "submit",
			"data": ev.BlockHex,
		}})
	}
	for _, r := range results {
		if r.Err != nil {
			o.logger.Error("pool: block submission rejected", "method", method, "daemon", r.DaemonID, "err", r.Err)
			ev.SubmissionError = r.Err.Error()
		}
	}

	acceptance, txHash := o.checkBlockAcceptance(ctx, ev.BlockHash)
	o.logger.Info("pool: block submitted", "hash", ev.BlockHash, "acceptance", acceptance, "tx_hash", txHash)
	o.metrics.BlocksFoundTotal.WithLabelValues(o.cfg.PoolID, acceptance).Inc()

	ev.BlockAcceptance = acceptance
	ev.TxHash = txHash
	return ev
}

// checkBlockAcceptance implements spec §4.7's getblock-based classification:
// confirmations >= 0 -> accepted, confirmations < 0 -> orphan, not found ->
// unknown.
func (o *Orchestrator) checkBlockAcceptance(ctx context.Context, blockHash string) (acceptance, coinbaseTxHash string) {
	results := o.rpc.Call(ctx, "getblock", []interface{}{blockHash})
	if len(results) == 0 {
		return "unknown", ""
	}
	r := results[0]
	if r.Err != nil {
		if strings.Contains(r.Err.Error(), "not found") || strings.Contains(r.Err.Error(), "Block not found") {
			return "unknown", ""
		}
		return "unknown", ""
	}
	var block struct {
		Confirmations int64    `json:"confirmations"`
		Tx            []string `json:"tx"`
	}
	if err := unmarshalFirst(results, &block); err != nil {
		return "unknown", ""
	}
	if block.Confirmations < 0 {
		return "orphan", ""
	}
	tx := ""
	if len(block.Tx) > 0 {
		tx = block.Tx[0]
	}
	return "accepted", tx
}

func (o *Orchestrator) buildConfigFor(info StartupInfo) blocktemplate.BuildConfig {
	recipients := make([]coinbase.Recipient, 0, len(o.cfg.RewardRecipients))
	for addr, pct := range o.cfg.RewardRecipients {
		recipients = append(recipients, coinbase.Recipient{ScriptPubKey: []byte(addr), Percent: pct})
	}
	return blocktemplate.BuildConfig{
		PoolScript: []byte(o.payoutAddress()),
		Recipients: recipients,
		PoolTag:    []byte("/stratum-core/"),
		EquihashN:  o.cfg.Coin.Parameters.N,
		EquihashK:  o.cfg.Coin.Parameters.K,
	}
}

func (o *Orchestrator) peerMagic(testnet bool) uint32 {
	if testnet {
		return o.cfg.Coin.PeerMagicTestnet
	}
	return o.cfg.Coin.PeerMagic
}

func unmarshalFirst(results []rpcclient.Result, v interface{}) error {
	for _, r := range results {
		if r.Err == nil {
			return json.Unmarshal(r.Result, v)
		}
	}
	return errors.New("no successful result to decode")
}

func slogLevel(level string) slog.Level {
	switch level {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func solutionVersionOver6(blockHex string) bool {
	// The solution's leading byte sits right after the 140-byte header in
	// the serialized block, spec §6.2/§6.3; expressed here on the hex
	// form since onShare only carries the hex string.
	const headerHexLen = 140 * 2
	if len(blockHex) <= headerHexLen+2 {
		return false
	}
	versionByte := blockHex[headerHexLen : headerHexLen+2]
	v, err := strconv.ParseUint(versionByte, 16, 8)
	return err == nil && v > 6
}

func sharesinkConfigFromURL(rawURL, poolID string) (sharesink.Config, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return sharesink.Config{}, err
	}
	return sharesink.Config{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolID:   poolID,
	}, nil
}

func banstoreConfigFromURL(rawURL string) (banstore.Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return banstore.Config{}, err
	}
	host := u.Hostname()
	port, _ := strconv.Atoi(u.Port())
	if port == 0 {
		port = 5432
	}
	password, _ := u.User.Password()
	sslMode := u.Query().Get("sslmode")
	return banstore.Config{
		Host:     host,
		Port:     port,
		Database: strings.TrimPrefix(u.Path, "/"),
		Username: u.User.Username(),
		Password: password,
		SSLMode:  sslMode,
	}, nil
}

func randomNonce() uint64 {
	// A fixed-at-boot, process-unique value is sufficient here: spec §4.6
	// only requires the handshake nonce differ from the peer's self-connect
	// detection nonce, not that it be cryptographically random.
	return uint64(time.Now().UnixNano())
}
