package instance

import "github.com/angelmondragon/payment-ledger/pkg/env"

// GetID identifies the running replica in logs: WORKER_ID, then the platform
// dyno name, then "local".
func GetID() string {
	return env.First("local", "WORKER_ID", "DYNO")
}
