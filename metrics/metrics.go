// Copyright 2015 The Skiff Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics registers the process-wide Prometheus collectors. The
// server has no net/http stack, so exposition happens by gathering the
// registry and text-encoding it into the normal response path of the
// internal /metrics endpoint.
package metrics

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
)

var registry = prometheus.NewRegistry()

var (
	// ConnectionsAccepted counts accepted client sockets.
	ConnectionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "skiff",
		Name:      "connections_accepted_total",
		Help:      "Client connections accepted.",
	})

	// ConnectionsRejected counts accepts refused by the connection cap.
	ConnectionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "skiff",
		Name:      "connections_rejected_total",
		Help:      "Client connections refused by the admission cap.",
	})

	// Responses counts responses by status class ("2xx", "4xx", ...).
	Responses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skiff",
		Name:      "responses_total",
		Help:      "Responses sent, labelled by status class.",
	}, []string{"class"})

	// CGIChildren counts forked CGI children.
	CGIChildren = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "skiff",
		Name:      "cgi_children_total",
		Help:      "CGI child processes forked.",
	})

	// Timeouts counts fired deadlines, labelled by kind
	// ("keepalive", "cgi").
	Timeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "skiff",
		Name:      "timeouts_total",
		Help:      "Connections ended by a timeout, labelled by kind.",
	}, []string{"kind"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ConnectionsAccepted,
		ConnectionsRejected,
		Responses,
		CGIChildren,
		Timeouts,
	)
}

// ObserveStatus records a sent response's status code.
func ObserveStatus(status int) {
	Responses.WithLabelValues(strconv.Itoa(status/100) + "xx").Inc()
}

// Exposition gathers the registry and renders it in the Prometheus text
// format for the /metrics endpoint.
func Exposition() ([]byte, error) {
	mfs, err := registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return nil, fmt.Errorf("encoding metrics: %w", err)
		}
	}
	return buf.Bytes(), nil
}
