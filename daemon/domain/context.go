// Package domain provides core domain models and runtime context for the storage control plane.
package domain

import "github.com/cskr/pubsub"

// Context holds the application runtime shared by every component: the
// process-wide event bus and the immutable-after-startup configuration.
// Design Note "Global state" treats the notify-socket path, config
// directory, and tool paths as process-wide configuration; they live on
// Config and are read, never mutated, after boot.
type Context struct {
	Hub *pubsub.PubSub
	Config
}
