// Package httpd is the connection front end that feeds the worker pool.
//
// It accepts TCP connections and submits exactly one job per connection.
// The job reads a single request line, looks it up in a fixed route table,
// reads the mapped file from the static directory and writes
//
//	<status line>\r\nContent-Length: <n>\r\n\r\n<body>
//
// Request lines that match no route get the NotFound route. A route whose
// file cannot be read is answered with a 500 and an empty body.
//
// The listener is wrapped with netutil.LimitListener so at most MaxConns
// connections are open at once; Accept blocks until a job closes its
// connection.
package httpd
