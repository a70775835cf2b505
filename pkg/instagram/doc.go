// Package instagram is a client for Instagram's private mobile API.
//
// A Client authenticates with the cookies and device identifiers of a
// session.Session and classifies every failure into the errors package
// taxonomy: rate limits, expired sessions, network trouble and plain client
// or server errors. Requests pass through a token bucket that slows down
// whenever the server answers 429.
//
// TimelineSource and UserSource adapt the client to crawler.PageSource.
//
// Example usage:
//
//	client := instagram.NewClientFromConfig(cfg, sess)
//	engine := crawler.New(instagram.NewTimelineSource(client), crawler.Options{...})
//	posts, err := engine.Crawl(ctx, 50)
//	if igerrors.IsType(err, igerrors.ErrorTypeAuth) {
//	    // log in again
//	}
package instagram
