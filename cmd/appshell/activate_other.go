//go:build !unix

package main

import "context"

func watchActivation(context.Context, func() error, func(error)) {}
