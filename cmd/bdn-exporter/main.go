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
	"flag"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/epsilon314/bdn/stats"
)

func main() {
	var (
		listenPort int
		targetPort int
		interval   time.Duration
	)
	flag.IntVar(&listenPort, "listenport", 9120, "Port to serve /metrics on")
	flag.IntVar(&targetPort, "targetport", 8889, "Monitoring port of the local bdnd")
	flag.DurationVar(&interval, "interval", 30*time.Second, "Scrape interval")
	flag.Parse()

	log.Infof("Exporting counters of :%d as prometheus metrics on :%d", targetPort, listenPort)
	e := stats.NewPrometheusExporter(listenPort, targetPort, interval)
	e.Start()
}
