// Package alsa
// Author: momentics <momentics@gmail.com>
//
// Hardware backend for the loopback engine: non-blocking PCM streams and
// mixer volume elements over github.com/gen2brain/alsa, device discovery
// and command line name parsing.
package alsa
