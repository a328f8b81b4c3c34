// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation names used as metric labels.
const (
	OpRegister         = "register"
	OpLogin            = "login"
	OpLogout           = "logout"
	OpResetRecoveryKey = "reset_recovery_key"
	OpRecoverDevice    = "recover_device"
	OpRequireSession   = "require_session"
)

// ResultSuccess labels operations that completed without error.
const ResultSuccess = "success"

// OperationsTotal counts Service operations by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var OperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ccserver_auth_operations_total",
		Help: "Total number of auth operations by result",
	},
	[]string{"operation", "result"},
)

// OperationDuration is the histogram for auth operation latency.
// Use RegisterMetrics to register this with a Prometheus registry.
var OperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ccserver_auth_operation_duration_seconds",
		Help:    "Auth operation duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// RegisterMetrics registers auth metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(OperationsTotal)
	reg.MustRegister(OperationDuration)
}

// resultLabel maps an operation error to its metric label: "success" or the
// lowercased kind without its prefix.
func resultLabel(err error) string {
	if err == nil {
		return ResultSuccess
	}
	switch KindOf(err) {
	case KindInvalidUsername:
		return "invalid_username"
	case KindDuplicateAccount:
		return "duplicate_account"
	case KindAccountNotFound:
		return "account_not_found"
	case KindDeviceMismatch:
		return "device_mismatch"
	case KindInvalidSession:
		return "invalid_session"
	case KindInvalidRecoveryKey:
		return "invalid_recovery_key"
	case KindSecretGenerationFailed:
		return "secret_generation_failed"
	case KindStoreUnavailable:
		return "store_unavailable"
	default:
		return "error"
	}
}

func recordOperation(op string, err error, elapsed time.Duration) {
	OperationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
