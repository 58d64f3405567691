// Package winpipe provides a named-pipe tunnel backend on Windows. Packets
// are delimited with the length-prefixed framing from the tunnel package.
// On other platforms the scheme stays registered so URL classification is
// uniform, but binding or dialing reports an error.
package winpipe
