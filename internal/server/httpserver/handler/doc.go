// Package handler implements the admin HTTP endpoints.
//
// @design DS-0301
package handler
