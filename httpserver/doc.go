/*
Package httpserver exposes the tag's local HTTP API.

The API reports what the tag is doing and, on the simulated radio, lets a
bench drive the provisioning service the way a phone would over GATT.

# Endpoints

  - GET /api/status - Indicator status, provisioning state and the last commit result
  - GET /api/frame - The advertisement currently on air (404 when stopped)
  - POST /api/sim/connect - Open a simulated peer connection
  - POST /api/sim/disconnect - Close a simulated peer connection
  - POST /api/sim/write/{characteristic} - Write auth, key, apple or google
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Mark server as not ready
  - GET /undrain - Mark server as ready

The /api/sim routes are only mounted when the handler is built with a bench.
A rejected simulated write answers 422 with the ATT code a real peer would
receive:

	POST /api/sim/write/auth {"conn": 1, "text": "HYBRID123"}
	-> 200 {"written": 9}

	POST /api/sim/write/apple {"conn": 1, "data": "0x0102"}
	-> 422 {"written": 0, "error": "...", "att_code": "0x0d"}

# Example Usage

	handler := httpserver.NewHandler(tag, gatt, logger)
	server := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":9090",
		Log:                      logger,
		GracefulShutdownDuration: 5 * time.Second,
		ReadTimeout:              5 * time.Second,
		WriteTimeout:             10 * time.Second,
	}, handler)

	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
