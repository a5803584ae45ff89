// Package redis provides the Redis job store backend.
package redis
