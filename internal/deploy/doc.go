// Package deploy implements the s3deploy commands on top of the manifest,
// freshness, mimetype and storage packages.
//
// A [Service] is built once per process with every collaborator passed in
// through [Options]. Uploads run one at a time in lexicographic key order
// and the first failure aborts the remaining batch. Nothing is retried.
package deploy
