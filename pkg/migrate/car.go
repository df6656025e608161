package migrate

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	carbs "github.com/ipld/go-car/v2/blockstore"
	mh "github.com/multiformats/go-multihash"

	"github.com/orneryd/ipldgraph/pkg/graph"
)

// dagCBORCodec is the multicodec for dag-cbor payload blocks.
const dagCBORCodec = 0x71

// carRoot is the root block of an exported archive: metadata plus the CIDs
// of every node and relationship block, as strings.
type carRoot struct {
	Nodes         []string               `json:"nodes"`
	Relationships []string               `json:"relationships"`
	Metadata      graph.SnapshotMetadata `json:"metadata"`
}

// encodeBlock CBOR-encodes v and wraps it as a dag-cbor block.
func encodeBlock(v any) (blocks.Block, error) {
	data, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: cbor encode: %v", ErrFormat, err)
	}
	builder := cid.V1Builder{Codec: dagCBORCodec, MhType: mh.SHA2_256}
	c, err := builder.Sum(data)
	if err != nil {
		return nil, fmt.Errorf("%w: cid: %v", ErrFormat, err)
	}
	blk, err := blocks.NewBlockWithCid(data, c)
	if err != nil {
		return nil, fmt.Errorf("%w: block: %v", ErrFormat, err)
	}
	return blk, nil
}

// WriteCAR exports the payload as a CARv2 archive at path. Every node and
// relationship becomes its own dag-cbor block; a root block references them
// all.
func WriteCAR(ctx context.Context, path string, data *GraphData) error {
	var nodeBlocks, relBlocks []blocks.Block
	root := carRoot{Metadata: data.Metadata}

	for _, node := range data.Nodes {
		blk, err := encodeBlock(node)
		if err != nil {
			return err
		}
		nodeBlocks = append(nodeBlocks, blk)
		root.Nodes = append(root.Nodes, blk.Cid().String())
	}
	for _, rel := range data.Relationships {
		blk, err := encodeBlock(rel)
		if err != nil {
			return err
		}
		relBlocks = append(relBlocks, blk)
		root.Relationships = append(root.Relationships, blk.Cid().String())
	}

	rootBlock, err := encodeBlock(&root)
	if err != nil {
		return err
	}

	bs, err := carbs.OpenReadWrite(path, []cid.Cid{rootBlock.Cid()})
	if err != nil {
		return fmt.Errorf("%w: opening car: %v", ErrFormat, err)
	}
	if err := bs.Put(ctx, rootBlock); err != nil {
		return fmt.Errorf("%w: writing root: %v", ErrFormat, err)
	}
	for _, blk := range append(nodeBlocks, relBlocks...) {
		if err := bs.Put(ctx, blk); err != nil {
			return fmt.Errorf("%w: writing block: %v", ErrFormat, err)
		}
	}
	if err := bs.Finalize(); err != nil {
		return fmt.Errorf("%w: finalizing car: %v", ErrFormat, err)
	}
	return nil
}

// ReadCAR imports a CAR archive written by WriteCAR. The archive must
// declare at least one root.
func ReadCAR(ctx context.Context, path string) (*GraphData, error) {
	bs, err := carbs.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening car: %v", ErrFormat, err)
	}
	defer bs.Close()

	roots, err := bs.Roots()
	if err != nil {
		return nil, fmt.Errorf("%w: reading roots: %v", ErrFormat, err)
	}
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}

	rootBlock, err := bs.Get(ctx, roots[0])
	if err != nil {
		return nil, fmt.Errorf("%w: root block: %v", ErrFormat, err)
	}
	var root carRoot
	if err := cbor.Unmarshal(rootBlock.RawData(), &root); err != nil {
		return nil, fmt.Errorf("%w: root decode: %v", ErrFormat, err)
	}

	data := &GraphData{Metadata: root.Metadata}
	for _, s := range root.Nodes {
		c, err := cid.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: node cid %q: %v", ErrFormat, s, err)
		}
		blk, err := bs.Get(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("%w: node block %s: %v", ErrFormat, s, err)
		}
		var node graph.Node
		if err := cbor.Unmarshal(blk.RawData(), &node); err != nil {
			return nil, fmt.Errorf("%w: node decode: %v", ErrFormat, err)
		}
		data.Nodes = append(data.Nodes, &node)
	}
	for _, s := range root.Relationships {
		c, err := cid.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: relationship cid %q: %v", ErrFormat, s, err)
		}
		blk, err := bs.Get(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("%w: relationship block %s: %v", ErrFormat, s, err)
		}
		var rel graph.Relationship
		if err := cbor.Unmarshal(blk.RawData(), &rel); err != nil {
			return nil, fmt.Errorf("%w: relationship decode: %v", ErrFormat, err)
		}
		data.Relationships = append(data.Relationships, &rel)
	}
	return data, nil
}
