// Package connectivity tracks whether the client is online and announces changes on the security event bus.
package connectivity
