// Package main provides the catalogscraper CLI.
//
// Usage:
//
//	catalogscraper crawl --category laptops --url https://shop.example/laptops
//	catalogscraper version
package main

func main() {
	Execute()
}
