// Package fake provides deterministic test doubles for the reactor, the audio
// device capabilities and the hook runner.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package fake
