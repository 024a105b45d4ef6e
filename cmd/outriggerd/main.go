// Command outriggerd is the coordination plane's daemon: it joins the
// gossip cluster, runs leader election and the assignment engine, drives
// the platform shim, and serves the admin HTTP surface. Bootstrap follows
// the teacher's cmd/dplaned/main.go shape: plain flag parsing, a single
// SQLite handle tuned for WAL, an HMAC-chained buffered audit logger, and
// a graceful signal-driven shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"outrigger/internal/assign"
	"outrigger/internal/audit"
	"outrigger/internal/controller"
	"outrigger/internal/election"
	"outrigger/internal/gossip"
	"outrigger/internal/health"
	"outrigger/internal/httpapi"
	"outrigger/internal/persist"
	"outrigger/internal/platform"
	"outrigger/internal/store"
	"outrigger/internal/wshub"
)

const version = "1.0.0"

func main() {
	listen := flag.String("listen", "", "gossip bind address, host:port (mandatory)")
	port := flag.Int("port", 4573, "HTTP admin port")
	gateway := flag.String("gateway", "", "gateway IP to ICMP-probe for upstream connectivity (mandatory)")
	dataPath := flag.String("data", "/var/lib/outrigger/outrigger.db", "path to SQLite backing file")
	seedFlag := flag.String("seed", "", "comma-separated seed peers, host:port,host:port")
	deadAt := flag.Int("dead-at", 5, "failure-detection scale, seconds: memberlist probes every dead-at/10 (min 200ms)")
	name := flag.String("name", "", "peer name (default: -listen)")
	prio := flag.Int("prio", 100, "election priority; lower wins")
	auditKeyPath := flag.String("audit-key", "/var/lib/outrigger/audit.key", "path to the HMAC audit-chain key file")
	auditLogPath := flag.String("audit-log", "/var/log/outrigger/audit.log", "path to the JSON-line audit log")
	flag.Parse()

	if *listen == "" {
		log.Fatal("-listen is mandatory")
	}
	if *gateway == "" {
		log.Fatal("-gateway is mandatory")
	}

	peerName := *name
	if peerName == "" {
		peerName = *listen
	}

	bindHost, bindPort, err := gossip.SplitHostPort(*listen)
	if err != nil {
		log.Fatalf("invalid -listen: %v", err)
	}

	var seeds []string
	for _, s := range strings.Split(*seedFlag, ",") {
		if s = strings.TrimSpace(s); s != "" {
			seeds = append(seeds, s)
		}
	}

	if err := audit.InitLogger(*auditLogPath); err != nil {
		log.Printf("WARNING: audit log unavailable (%v) -- action log disabled", err)
	}

	persistStore, err := persist.Open(*dataPath)
	if err != nil {
		log.Fatalf("open persistence: %v", err)
	}
	defer persistStore.Close()

	stop := make(chan struct{})
	persistStore.StartCheckpointLoop(5*time.Minute, stop)
	persistStore.StartBackupLoop(*dataPath+".backup", 24*time.Hour, stop)

	auditKey, err := audit.LoadOrCreateAuditKey(*auditKeyPath)
	if err != nil {
		log.Printf("WARNING: audit HMAC key unavailable (%v) -- chain disabled", err)
		auditKey = nil
	}
	bufferedLogger := audit.NewBufferedLogger(persistStore.DB(), 100, 5*time.Second, auditKey)
	bufferedLogger.Start()
	defer bufferedLogger.Stop()

	// logEvent writes to both the plaintext JSON-line log and the
	// HMAC-chained SQLite trail; audit.BufferedLogger.Log itself decides
	// whether an action is critical enough to bypass its buffer.
	logEvent := func(action, resource string, success bool, err error) {
		audit.LogAction(action, peerName, resource, success, err)
		details := ""
		if err != nil {
			details = err.Error()
		}
		if logErr := bufferedLogger.Log(audit.ChainEvent{
			Timestamp: time.Now().Unix(),
			Peer:      peerName,
			Action:    action,
			Resource:  resource,
			Details:   details,
			Success:   success,
		}); logErr != nil {
			log.Printf("audit: failed to chain-log %s: %v", action, logErr)
		}
	}

	s := store.New(peerName)
	if entries, err := persistStore.Load(); err != nil {
		log.Printf("WARNING: failed to load persisted state: %v", err)
	} else {
		s.LoadSnapshot(entries)
		log.Printf("loaded %d persisted entries", len(entries))
	}

	g, err := gossip.Join(gossip.Config{
		Name:        peerName,
		BindAddr:    bindHost,
		BindPort:    bindPort,
		SeedPeers:   seeds,
		DeadTimeout: time.Duration(*deadAt) * time.Second,
	})
	if err != nil {
		log.Fatalf("join gossip cluster: %v", err)
	}
	defer g.Leave(5 * time.Second)
	s.SetPublisher(g)
	g.OnStoreChange(s.ApplyRemote)

	hub := wshub.New()
	go hub.Run()

	driver := assign.NewDriver(s)
	shim := platform.NewLinuxShim()
	shim.ErrorLog = func(rid, op string, err error) {
		logEvent("platform_"+op, rid, false, err)
	}

	prober, err := health.NewProber(*gateway)
	if err != nil {
		log.Fatalf("open icmp prober: %v", err)
	}
	defer prober.Close()

	var ctrl *controller.Controller

	tracker := health.NewTracker(prober, func(up bool) {
		g.PublishReserved("private:status", statusWord(up))
		hub.BroadcastStatusChange(peerName, up)
		ctrl.StatusChange(peerName, up)
	})

	e := election.New(peerName, *prio, election.DefaultVoteDelay, g, g.PublishReserved, func(isLeader bool, leader string) {
		ctrl.LeaderElected(isLeader, leader)
		hub.BroadcastLeaderElected(isLeader, leader)
	})

	onEvent := func(kind string, fields map[string]any) {
		resource, _ := fields["resource"].(string)
		logEvent(kind, resource, true, nil)
		switch kind {
		case "resource_assigned":
			hub.BroadcastResourceAssigned(resource, fields["assign_to_me"] == true)
		case "assignment_run":
			if peers, ok := fields["peers"].([]string); ok {
				hub.BroadcastAssignmentRun(peers)
			}
		}
	}

	ctrl = controller.New(peerName, s, e, driver, shim, g, tracker, onEvent)

	// Persist every applied change (local or replicated) ahead of the
	// controller's own dispatch, matching the teacher's "write-through
	// before handling" ordering for its reconciler tables.
	s.OnChange(func(source, key string, value store.Value) {
		persistStore.SyncOnChange(source, key, value)
		ctrl.OnChange(source, key, value)
	})

	g.OnPeerAlive(func(peer string) {
		e.PeerAlive(peer)
		ctrl.PeerLivenessChanged()
	})
	g.OnPeerDead(func(peer string) {
		e.PeerDead(peer)
		ctrl.PeerLivenessChanged()
	})
	g.OnReservedChange(func(peer, key, value string) {
		// Offer prio/vote/leader to the election first, same as
		// Controller.OnChange does for store-backed keys: a change to any
		// of them re-arms the vote-delay timer per §4.2's re-election
		// triggers. Only private:status falls through to the controller.
		if e.HandleChange(key) {
			return
		}
		if key == "private:status" {
			ctrl.StatusChange(peer, value == "up")
		}
	})

	e.Start()
	tracker.Start()
	defer tracker.Stop()
	tracker.PublishInitial()

	srv := httpapi.New(s, ctrl, e, g, tracker, hub)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("outriggerd %s listening on :%d (peer %s, gossip %s)", version, *port, peerName, *listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	logEvent("daemon_start", "", true, nil)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Println("shutting down gracefully...")
	logEvent("daemon_stop", "", true, nil)
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
}

func statusWord(up bool) string {
	if up {
		return "up"
	}
	return "down"
}
