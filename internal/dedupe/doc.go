// Package dedupe tracks keys that are currently claimed so a second caller
// can be turned away while the first is still in progress. Claims expire
// after a TTL so a lost Release cannot block a key forever.
package dedupe
