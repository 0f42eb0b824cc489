/*
Package gander is a grammar-based input generation toolbox.

Gander strives to be a smart and lightweight tool for producing and
re-parsing structured inputs: strings, byte sequences and bit sequences,
possibly mixed within a single grammar. It grew out of grammar-based
fuzzing, where a population of derivation trees is generated, mutated and
re-validated against the grammar over and over again. Package structure is
as follows:

■ grammar: Package grammar implements the grammar IR, a budget-bounded
random fuzzer, an Earley-style chart parser over byte- and bit-streams,
and k-path coverage scoring.

■ tree: Package tree implements mutable derivation trees with parent
back-links, cached sizes and structural hashes, and subtree replacement.

The base package contains data types which are used throughout all the
other packages, most prominently the grammar symbols.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2017–2022 Norbert Pillmayer <norbert@pillmayer.com>

*/
package gander
