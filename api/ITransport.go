// Package api with the transport interface definition
package api

import "context"

// TimestampField is the value key that holds the publication time when timestamps are added
const TimestampField = "@timestamp"

// Record is a single band value of an identified thing
type Record struct {
	ID    string                 `json:"id"`
	Band  string                 `json:"band"`
	Value map[string]interface{} `json:"value"`
}

// ISubscription is returned when registering a handler. Unsubscribe stops delivery to the handler.
// Calling it more than once is allowed.
type ISubscription interface {
	Unsubscribe()
}

// ITransport describes the operations of a transport that moves band values of things
// between processes. Implementations may support only part of these operations and
// return ErrNotSupported for the others.
type ITransport interface {

	// List returns the IDs of all known things
	List() ([]string, error)

	// Added registers a handler that is invoked when a new thing becomes known
	Added(handler func(id string)) (ISubscription, error)

	// About returns the description of a thing
	//  id of the thing, required
	About(id string) (map[string]interface{}, error)

	// Bands returns the band names of a thing
	//  id of the thing, required
	Bands(id string) ([]string, error)

	// Get returns the latest value of a band
	//  id and band are required
	Get(id string, band string) (Record, error)

	// Put publishes a band value and waits until the publication completes or ctx ends.
	// The returned record holds a copy of value as it was published.
	//  id and band are required
	Put(ctx context.Context, id string, band string, value map[string]interface{}) (Record, error)

	// Updated registers a handler for band value updates.
	// An empty idFilter or bandFilter matches any id or band.
	Updated(idFilter string, bandFilter string, handler func(record Record)) (ISubscription, error)

	// Remove deletes a band of a thing
	//  id and band are required
	Remove(id string, band string) error

	// Close releases the resources held by the transport
	Close()
}
