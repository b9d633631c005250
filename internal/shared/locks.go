package shared

import "fmt"

// FinanceLockKey builds redis keys for finance critical sections.
func FinanceLockKey(tenantID int64, year, month int) string {
	return fmt.Sprintf("finance:tenant:%d:period:%04d%02d:lock", tenantID, year, month)
}
