// This Source Code Form is subject to the terms of the Mozilla Public
// License, version 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// rdiff generates signatures and deltas of local files and applies deltas,
// without the two file versions ever meeting on one machine.
package main

import (
	"os"

	"github.com/codegangsta/cli"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/c4milo/rdelta"
)

const version = "1.0.0"

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

func main() {
	app := cli.NewApp()
	app.Name = "rdiff"
	app.Version = version
	app.Usage = "    signature [OPTIONS] BASIS [SIGNATURE]\n" +
		"               delta SIGNATURE NEWFILE [DELTA]\n" +
		"               patch BASIS DELTA [NEWFILE]\n"
	app.Commands = []cli.Command{
		{
			Name:    "signature",
			Aliases: []string{"s"},
			Usage:   "Generate the per-block signature of BASIS",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "block-size,b",
					Value: rdelta.DefaultBlockLen,
					Usage: "signature block size in bytes",
				},
				cli.IntFlag{
					Name:  "sum-size,s",
					Value: rdelta.DefaultStrongLen,
					Usage: "strong hash bytes kept per block",
				},
				cli.StringFlag{
					Name:  "format,f",
					Value: "blake2",
					Usage: "signature format: md4, blake2, sha256, rk-md4 or rk-blake2",
				},
			},
			Action: doSignature,
		},
		{
			Name:    "delta",
			Aliases: []string{"d"},
			Usage:   "Compute the delta from SIGNATURE to NEWFILE",
			Action:  doDelta,
		},
		{
			Name:    "patch",
			Aliases: []string{"p"},
			Usage:   "Reconstruct NEWFILE from BASIS and DELTA",
			Action:  doPatch,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("rdiff failed")
	}
}

func parseFormat(name string) (rdelta.SignatureFormat, error) {
	switch name {
	case "md4":
		return rdelta.MD4Format, nil
	case "blake2":
		return rdelta.Blake2Format, nil
	case "sha256":
		return rdelta.SHA256Format, nil
	case "rk-md4":
		return rdelta.RabinKarpMD4Format, nil
	case "rk-blake2":
		return rdelta.RabinKarpBlake2Format, nil
	}
	return 0, errors.Errorf("unknown signature format %q", name)
}

// signatureOptions builds validated options from the raw flag values. The
// sizes arrive as ints and must be checked before the uint32 conversion, or
// negative flag values would wrap into huge valid-looking options.
func signatureOptions(format string, blockSize, sumSize int) (rdelta.SignatureOptions, error) {
	magic, err := parseFormat(format)
	if err != nil {
		return rdelta.SignatureOptions{}, err
	}
	if blockSize <= 0 {
		return rdelta.SignatureOptions{}, errors.Errorf("block size must be positive, got %d", blockSize)
	}
	if sumSize <= 0 {
		return rdelta.SignatureOptions{}, errors.Errorf("sum size must be positive, got %d", sumSize)
	}
	opts := rdelta.SignatureOptions{
		Magic:     magic,
		BlockLen:  uint32(blockSize),
		StrongLen: uint32(sumSize),
	}
	return opts, opts.Validate()
}

// rdiff signature [-b N] [-s N] [-f FORMAT] BASIS [SIGNATURE]
func doSignature(c *cli.Context) error {
	if n := len(c.Args()); n == 0 || n > 2 {
		return errors.New("usage: rdiff signature [OPTIONS] BASIS [SIGNATURE]")
	}

	opts, err := signatureOptions(c.String("format"), c.Int("block-size"), c.Int("sum-size"))
	if err != nil {
		return err
	}

	basisFn := c.Args().First()
	sigFn := c.Args().Get(1)
	if sigFn == "" {
		sigFn = basisFn + ".sig"
	}

	basis, err := os.Open(basisFn)
	if err != nil {
		return errors.Wrapf(err, "failed opening basis file %s", basisFn)
	}
	defer basis.Close()

	sig, err := os.Create(sigFn)
	if err != nil {
		return errors.Wrapf(err, "failed creating signature file %s", sigFn)
	}
	defer sig.Close()

	if err := rdelta.GenerateSignature(basis, opts, sig); err != nil {
		return err
	}

	log.Info().
		Str("basis", basisFn).
		Str("signature", sigFn).
		Str("format", opts.Magic.String()).
		Uint32("block_len", opts.BlockLen).
		Msg("signature written")
	return sig.Close()
}

// rdiff delta SIGNATURE NEWFILE [DELTA]
func doDelta(c *cli.Context) error {
	if n := len(c.Args()); n < 2 || n > 3 {
		return errors.New("usage: rdiff delta SIGNATURE NEWFILE [DELTA]")
	}

	sigFn := c.Args().First()
	targetFn := c.Args().Get(1)
	deltaFn := c.Args().Get(2)
	if deltaFn == "" {
		deltaFn = targetFn + ".delta"
	}

	sigFile, err := os.Open(sigFn)
	if err != nil {
		return errors.Wrapf(err, "failed opening signature file %s", sigFn)
	}
	defer sigFile.Close()

	sig, err := rdelta.LoadSignature(sigFile)
	if err != nil {
		return err
	}

	target, err := os.Open(targetFn)
	if err != nil {
		return errors.Wrapf(err, "failed opening target file %s", targetFn)
	}
	defer target.Close()

	delta, err := os.Create(deltaFn)
	if err != nil {
		return errors.Wrapf(err, "failed creating delta file %s", deltaFn)
	}
	defer delta.Close()

	if err := rdelta.ComputeDelta(sig, target, delta); err != nil {
		return err
	}

	log.Info().
		Str("target", targetFn).
		Str("delta", deltaFn).
		Int("blocks", sig.Blocks()).
		Msg("delta written")
	return delta.Close()
}

// rdiff patch BASIS DELTA [NEWFILE]
func doPatch(c *cli.Context) error {
	if n := len(c.Args()); n < 2 || n > 3 {
		return errors.New("usage: rdiff patch BASIS DELTA [NEWFILE]")
	}

	basisFn := c.Args().First()
	deltaFn := c.Args().Get(1)
	outFn := c.Args().Get(2)
	if outFn == "" {
		outFn = basisFn + ".patched"
	}

	basis, err := os.Open(basisFn)
	if err != nil {
		return errors.Wrapf(err, "failed opening basis file %s", basisFn)
	}
	defer basis.Close()

	delta, err := os.Open(deltaFn)
	if err != nil {
		return errors.Wrapf(err, "failed opening delta file %s", deltaFn)
	}
	defer delta.Close()

	out, err := os.Create(outFn)
	if err != nil {
		return errors.Wrapf(err, "failed creating output file %s", outFn)
	}
	defer out.Close()

	if err := rdelta.Patch(basis, delta, out); err != nil {
		return err
	}

	log.Info().
		Str("basis", basisFn).
		Str("output", outFn).
		Msg("patch applied")
	return out.Close()
}
