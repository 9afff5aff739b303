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

package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter republishes the JSON monitoring counters of a
// running node as prometheus gauges
type PrometheusExporter struct {
	registry   *prometheus.Registry
	listenPort int
	TargetPort int
	interval   time.Duration
}

// NewPrometheusExporter creates a new instance of PrometheusExporter
func NewPrometheusExporter(listenPort, targetPort int, scrapeInterval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{
		registry:   prometheus.NewRegistry(),
		listenPort: listenPort,
		TargetPort: targetPort,
		interval:   scrapeInterval,
	}
}

// Start runs the exporter. It scrapes on the configured cadence and
// serves /metrics until the process exits.
func (e *PrometheusExporter) Start() {
	go func() {
		for {
			e.scrape()
			time.Sleep(e.interval)
		}
	}()

	http.Handle("/metrics", promhttp.HandlerFor(
		e.registry,
		promhttp.HandlerOpts{},
	))
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", e.listenPort), nil))
}

func (e *PrometheusExporter) scrape() {
	counters, err := FetchCounters(fmt.Sprintf("http://localhost:%d", e.TargetPort))
	if err != nil {
		log.Errorf("Failed to fetch node counters: %v", err)
		return
	}
	for key, val := range counters {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bdn",
			Name:      flattenKey(key),
			Help:      key,
		})
		if err := e.registry.Register(g); err != nil {
			are := &prometheus.AlreadyRegisteredError{}
			if errors.As(err, are) {
				g = are.ExistingCollector.(prometheus.Gauge)
			} else {
				log.Errorf("failed to register metric %s: %v", key, err)
				continue
			}
		}
		g.Set(float64(val))
	}
}

// FetchCounters reads the JSON counters from a node's monitoring endpoint
func FetchCounters(url string) (map[string]int64, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetching counters from %q: %w", url, err)
	}
	defer resp.Body.Close()
	counters := map[string]int64{}
	if err := json.NewDecoder(resp.Body).Decode(&counters); err != nil {
		return nil, fmt.Errorf("decoding counters: %w", err)
	}
	return counters, nil
}

func flattenKey(key string) string {
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	return key
}
