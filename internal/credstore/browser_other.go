//go:build !(js && wasm)

package credstore

import "errors"

func newBrowserStore() (Store, error) {
	return nil, errors.New("credstore: web target is only available in the browser build")
}
