// Package ports defines the interfaces (ports) that external adapters must implement.
// This follows the hexagonal architecture pattern and enables testability by allowing
// mock implementations for unit testing. The workflow executor depends only on these
// interfaces; persistence technology, directory lookups and notification delivery are
// external collaborators.
package ports
