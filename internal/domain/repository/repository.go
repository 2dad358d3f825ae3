package repository

// PayrollRepository is the interface for persisting and managing payroll
// run and item state. It embeds the per-aggregate repository interfaces to
// separate concerns while keeping a single unit of wiring.
type PayrollRepository interface {
	PayrollRunRepository
	PayrollItemRepository

	// Close releases resources (such as database connections) used by the
	// repository.
	Close() error
}
