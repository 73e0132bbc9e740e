// Package crawler holds the request, response and result model shared by the
// scheduler, its middlewares, downloaders, output stages and spiders, along
// with the optional hook interfaces those components implement.
package crawler
