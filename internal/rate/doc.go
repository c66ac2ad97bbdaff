// Package rate holds the Redis fixed-window counters behind login and
// refresh throttling.
//
// # Window semantics
//
// INCR + EXPIRE on the first hit of a window. Key prefixes:
//   - rl:login:<role>:<email> : failed logins per account
//   - rl:login-ip:<ip>        : failed logins per client IP
//   - rl:refresh:<family>     : refresh attempts per token family
package rate
