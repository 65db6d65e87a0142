// Package templates holds the page chrome shared by every dashboard view.
package templates

//go:generate go tool templ generate
