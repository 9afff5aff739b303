/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/epsilon314/bdn/identity"
	"github.com/epsilon314/bdn/measure"
	"github.com/epsilon314/bdn/overlay"
	"github.com/epsilon314/bdn/protocol"
	"github.com/epsilon314/bdn/route/mlbt"
	"github.com/epsilon314/bdn/stats"
	"github.com/epsilon314/bdn/transport"
)

func main() {
	c := overlay.DefaultConfig()

	var (
		configFile string
		logLevel   string
		debugAddr  string
		idSeed     string
		sendOnce   string
		listenPort uint
	)

	flag.StringVar(&configFile, "config", "", "Path to the yaml config")
	flag.StringVar(&logLevel, "loglevel", "info", "Set a log level. Can be: debug, info, warning, error")
	flag.StringVar(&debugAddr, "pprofaddr", "", "host:port for the pprof to bind")
	flag.StringVar(&idSeed, "seed", "", "Derive the node id from this seed instead of a random one")
	flag.StringVar(&sendOnce, "send", "", "Broadcast this payload once after startup, for smoke tests")
	flag.UintVar(&listenPort, "port", 0, "Override the configured listen port")
	flag.Parse()

	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("Unrecognized log level: %v", logLevel)
	}

	if configFile != "" {
		var err error
		c, err = overlay.ReadConfig(configFile)
		if err != nil {
			log.Fatal(err)
		}
	}
	if listenPort != 0 {
		c.ListenPort = uint16(listenPort)
	}

	if debugAddr != "" {
		log.Warningf("Starting profiler on %s", debugAddr)
		go func() {
			log.Println(http.ListenAndServe(debugAddr, nil))
		}()
	}

	var local identity.Peer
	var err error
	if idSeed != "" {
		local = identity.FromBytes([]byte(idSeed))
	} else {
		local, err = identity.FromRandom()
		if err != nil {
			log.Fatalf("Generating node identity: %v", err)
		}
	}
	log.Infof("Local peer id: %s", local)

	tr, err := transport.New(c.Transport)
	if err != nil {
		log.Fatal(err)
	}

	ctl := mlbt.New(local)
	ctl.EnableMergeCheck(c.MergeCheck)
	ctl.Host(local)
	probe := measure.NewProbe(tr, ctl.Stats())

	st := stats.NewJSONStats()
	go st.Start(c.MonitoringPort)

	engine := overlay.NewEngine(c, local, tr, ctl, st, probe)

	peers, addrs, err := c.SeedEntries()
	if err != nil {
		log.Fatal(err)
	}
	for i, p := range peers {
		engine.AddressBook().Insert(p, addrs[i])
		probe.Register(p, addrs[i].ListenAddrPort())
	}
	subs, err := c.Subscriptions()
	if err != nil {
		log.Fatal(err)
	}
	for _, s := range subs {
		ctl.Subscribe(s[0], s[1])
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Engine run failed: %v", err)
	}
	defer engine.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("Shutting down")
		cancel()
	}()

	engine.Connect()

	if sendOnce != "" {
		header, err := protocol.BuildHeader(protocol.MsgPayload, true, protocol.RelayLookupTable1, 1, protocol.MaxTTL)
		if err != nil {
			log.Fatal(err)
		}
		msg := protocol.NewOverlayMessage(header, local, local, identity.Broadcast, []byte(sendOnce))
		engine.Broadcast(msg)
		log.Infof("Broadcast %d bytes", len(sendOnce))
	}

	for {
		msg, ok := engine.Poll()
		if !ok {
			log.Info("Ingress closed, exiting")
			return
		}
		log.Infof("Payload from %s: %d bytes", msg.Src(), len(msg.Payload))
	}
}
