package shared

import "fmt"

// ValuationLockKey builds the redis key guarding the stock valuation snapshot.
func ValuationLockKey(asOf string) string {
	return fmt.Sprintf("inventory:valuation:%s:lock", asOf)
}
