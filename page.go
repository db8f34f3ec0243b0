package main

import _ "embed"

// consolePage is the browser front end. It forwards input events to the
// /api/input routes and polls /api/state and /map.png.
//
//go:embed web/console.html
var consolePage []byte
