package credstore

import (
	"fmt"
	"os"
	"runtime"
)

// Target is the runtime environment a credential backend is chosen for.
type Target string

const (
	// TargetNative stores credentials in an encrypted file.
	TargetNative Target = "native"
	// TargetWeb stores credentials in browser localStorage.
	TargetWeb Target = "web"
	// TargetServerless stores KMS-encrypted credentials in DynamoDB.
	TargetServerless Target = "serverless"
	// TargetMemory keeps credentials for the life of the process.
	TargetMemory Target = "memory"
)

// ParseTarget validates a configured target name. The empty string means auto-detect.
func ParseTarget(s string) (Target, error) {
	switch t := Target(s); t {
	case "", TargetNative, TargetWeb, TargetServerless, TargetMemory:
		return t, nil
	default:
		return "", fmt.Errorf("unknown credential store target %q", s)
	}
}

// DetectTarget picks the backend for a runtime. It has no side effects.
func DetectTarget(goos string, getenv func(string) string) Target {
	if goos == "js" {
		return TargetWeb
	}
	if getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return TargetServerless
	}
	return TargetNative
}

// RuntimeTarget is DetectTarget for the current process.
func RuntimeTarget() Target {
	return DetectTarget(runtime.GOOS, os.Getenv)
}
