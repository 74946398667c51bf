// Package discovery abstracts how a node finds its seed peers.
package discovery

// Discovery provides the seed addresses used to join the cluster.
// Implementations may be static lists, files, or dynamic sources.
type Discovery interface {
	Seeds() []string
}
