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
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/epsilon314/bdn/protocol"
)

// JSONStats implements Stats and reports as JSON over HTTP
type JSONStats struct {
	live   *counters
	report map[string]int64
}

// NewJSONStats returns a JSONStats
func NewJSONStats() *JSONStats {
	return &JSONStats{
		live:   newCounters(),
		report: make(map[string]int64),
	}
}

// Start runs the HTTP reporter on monitoringPort
func (s *JSONStats) Start(monitoringPort int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	addr := fmt.Sprintf(":%d", monitoringPort)
	log.Infof("Starting stats server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("Failed to start the stats server: %v", err)
	}
}

func (s *JSONStats) handleRequest(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.report); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

// Snapshot the current values so they are reported atomically
func (s *JSONStats) Snapshot() {
	s.report = s.live.copy()
}

// Reset all live counters to 0
func (s *JSONStats) Reset() {
	s.live.reset()
}

// Counters returns a copy of the current report
func (s *JSONStats) Counters() map[string]int64 {
	out := make(map[string]int64, len(s.report))
	for k, v := range s.report {
		out[k] = v
	}
	return out
}

// IncRX counts one received message of type t
func (s *JSONStats) IncRX(t protocol.MsgType) {
	s.live.inc(fmt.Sprintf("rx.%s", strings.ToLower(t.String())))
}

// IncTX counts one sent message of type t
func (s *JSONStats) IncTX(t protocol.MsgType) {
	s.live.inc(fmt.Sprintf("tx.%s", strings.ToLower(t.String())))
}

// IncRXCtl counts one received relay-control message of kind k
func (s *JSONStats) IncRXCtl(k protocol.CtlKind) {
	s.live.inc(fmt.Sprintf("rx.ctl.%s", strings.ToLower(k.String())))
}

// IncTXCtl counts one sent relay-control message of kind k
func (s *JSONStats) IncTXCtl(k protocol.CtlKind) {
	s.live.inc(fmt.Sprintf("tx.ctl.%s", strings.ToLower(k.String())))
}

// IncRelayed counts one payload fanned out along the relay tree
func (s *JSONStats) IncRelayed() {
	s.live.inc("relayed")
}

// IncDecodeError counts one undecodable frame
func (s *JSONStats) IncDecodeError() {
	s.live.inc("errors.decode")
}

// IncSendError counts one failed dial or write
func (s *JSONStats) IncSendError() {
	s.live.inc("errors.send")
}

// SetRelayLinks records the current relay link total
func (s *JSONStats) SetRelayLinks(n int64) {
	s.live.set("relay.links", n)
}

// SetIngressQueue records the current ingress queue depth
func (s *JSONStats) SetIngressQueue(n int64) {
	s.live.set("queue.ingress", n)
}

// SetSendBuffer records the current send buffer depth
func (s *JSONStats) SetSendBuffer(n int64) {
	s.live.set("queue.send", n)
}
