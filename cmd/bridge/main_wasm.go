//go:build js && wasm

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall/js"
	"time"

	"github.com/jun/docshare/internal/bridge"
	"github.com/jun/docshare/internal/config"
	"github.com/jun/docshare/internal/credstore"
	"github.com/jun/docshare/internal/logging"
)

// globalEnv reads configuration from string properties of globalThis,
// e.g. globalThis.DOCSHARE_API_URL.
func globalEnv(key string) string {
	v := js.Global().Get(key)
	if v.Type() != js.TypeString {
		return ""
	}
	return v.String()
}

func errorObject(err error) js.Value {
	obj := js.Global().Get("Object").New()
	obj.Set("error", err.Error())
	return obj
}

// promise runs fn off the event loop; network calls would otherwise deadlock.
func promise(fn func() (any, error)) js.Value {
	var executor js.Func
	executor = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolve, reject := args[0], args[1]
		go func() {
			defer executor.Release()
			v, err := fn()
			if err != nil {
				reject.Invoke(js.Global().Get("Error").New(err.Error()))
				return
			}
			resolve.Invoke(v)
		}()
		return nil
	})
	return js.Global().Get("Promise").New(executor)
}

func main() {
	ctx := context.Background()
	cfg, err := config.Load("", globalEnv)
	if err != nil {
		fmt.Println("docshare: config:", err)
		return
	}
	log := logging.New(os.Stdout, cfg.LogLevel)

	store, err := credstore.Open(credstore.Options{Target: credstore.TargetWeb})
	if err != nil {
		fmt.Println("docshare: credential store unavailable:", err)
		return
	}
	client, err := bridge.New(ctx, cfg, store, nil, log)
	if err != nil {
		fmt.Println("docshare:", err)
		return
	}

	// format: renderMarkdown(content) -> htmlString
	renderFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 1 {
			return "Error: Invalid number of arguments"
		}
		html, err := client.RenderMarkdown(args[0].String())
		if err != nil {
			return "Error: " + err.Error()
		}
		return html
	})

	// format: decideAccess(actorJSON, documentJSON, action) -> {allowed, reason}
	decideFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 3 {
			return errorObject(errors.New("decideAccess takes 3 arguments"))
		}
		d, err := bridge.Decide(args[0].String(), args[1].String(), args[2].String(), time.Now())
		if err != nil {
			return errorObject(err)
		}
		obj := js.Global().Get("Object").New()
		obj.Set("allowed", d.Allowed)
		if d.Reason != nil {
			obj.Set("reason", d.Reason.Error())
		}
		return obj
	})

	// format: composeChecklist(listJSON) -> content
	composeFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 1 {
			return "Error: Invalid number of arguments"
		}
		content, err := bridge.ComposeChecklist(args[0].String())
		if err != nil {
			return "Error: " + err.Error()
		}
		return content
	})

	// format: toggleChecklistItem(content, index) -> content
	toggleFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 2 || args[1].Type() != js.TypeNumber {
			return "Error: expected (content, index)"
		}
		content, err := bridge.ToggleChecklistItem(args[0].String(), args[1].Int())
		if err != nil {
			return "Error: " + err.Error()
		}
		return content
	})

	// format: login(email, password) -> Promise<void>
	loginFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 2 {
			return js.Global().Get("Promise").Call("reject", js.Global().Get("Error").New("login takes 2 arguments"))
		}
		email, password := args[0].String(), args[1].String()
		return promise(func() (any, error) {
			return nil, client.Login(ctx, email, password)
		})
	})

	// format: accessToken() -> Promise<string>, refreshed when about to expire
	accessTokenFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		return promise(func() (any, error) {
			return client.AccessToken()
		})
	})

	// format: currentToken() -> string | null
	tokenFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		tok, ok := client.CurrentToken(ctx)
		if !ok {
			return nil
		}
		return tok
	})

	// format: logout()
	logoutFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		client.Logout(ctx)
		return nil
	})

	// format: handleUnauthorized([rejectedToken])
	unauthorizedFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		var rejected string
		if len(args) > 0 && args[0].Type() == js.TypeString {
			rejected = args[0].String()
		}
		client.HandleUnauthorized(ctx, rejected)
		return nil
	})

	// format: onSessionEvent(callback(kind)) -> unsubscribe()
	eventFunc := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) != 1 || args[0].Type() != js.TypeFunction {
			return nil
		}
		callback := args[0]
		cancel := client.OnSessionEvent(func(kind string) { callback.Invoke(kind) })
		var unsubscribe js.Func
		unsubscribe = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
			cancel()
			unsubscribe.Release()
			return nil
		})
		return unsubscribe
	})

	js.Global().Set("renderMarkdown", renderFunc)
	js.Global().Set("decideAccess", decideFunc)
	js.Global().Set("composeChecklist", composeFunc)
	js.Global().Set("toggleChecklistItem", toggleFunc)
	js.Global().Set("login", loginFunc)
	js.Global().Set("accessToken", accessTokenFunc)
	js.Global().Set("currentToken", tokenFunc)
	js.Global().Set("logout", logoutFunc)
	js.Global().Set("handleUnauthorized", unauthorizedFunc)
	js.Global().Set("onSessionEvent", eventFunc)

	fmt.Println("docshare core Wasm initialized")

	select {}
}
