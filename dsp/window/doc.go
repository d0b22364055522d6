// Package window generates the window functions used for framing and
// crossfading in the pitch shifters.
package window
