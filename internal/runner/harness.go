package runner

// Harness shims wrap a generated server program so its result comes back as
// one JSON document between sentinel markers. Everything the program prints
// before the markers is collected into the logs field of the envelope. Both
// shims receive the program path as their first argument and, when testing,
// the numeric test arg as their second.

const resultSentinel = "<<gq-result>>"

const jsHarness = `
const path = process.argv[1];
const mod = require(path);
const gen = (mod && typeof mod.generate === "function") ? mod.generate
  : (typeof mod === "function" ? mod : null);
if (!gen) {
  process.stderr.write("no generate() entrypoint exported");
  process.exit(4);
}
const arg = process.argv[2];
Promise.resolve(arg === undefined ? gen() : gen(Number(arg)))
  .then((value) => {
    const body = JSON.stringify(value === undefined ? null : value, (k, v) =>
      typeof v === "bigint" ? Number(v) : v);
    process.stdout.write("\n` + resultSentinel + `" + body + "` + resultSentinel + `\n");
  })
  .catch((err) => {
    process.stderr.write(String((err && err.stack) || err));
    process.exit(3);
  });
`

const pyHarness = `
import importlib.util
import json
import sys

path = sys.argv[1]
spec = importlib.util.spec_from_file_location("server", path)
mod = importlib.util.module_from_spec(spec)
try:
    spec.loader.exec_module(mod)
except Exception:
    import traceback
    traceback.print_exc(file=sys.stderr)
    sys.exit(3)

fn = getattr(mod, "generate", None)
if not callable(fn):
    sys.stderr.write("no generate() entrypoint defined")
    sys.exit(4)

try:
    result = fn(int(sys.argv[2])) if len(sys.argv) > 2 else fn()
except Exception:
    import traceback
    traceback.print_exc(file=sys.stderr)
    sys.exit(3)

body = json.dumps(result if result is not None else None, default=str)
sys.stdout.write("\n` + resultSentinel + `" + body + "` + resultSentinel + `\n")
`
